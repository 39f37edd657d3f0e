package config

import (
	"fmt"
	"net"
	"os"

	log "github.com/sirupsen/logrus"
	funk "github.com/thoas/go-funk"
	"gopkg.in/yaml.v3"
)

// Node is one cluster member.
type Node struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
	Port    string `yaml:"port"`
}

// Addr return the dialable host:port of the node.
func (n *Node) Addr() string {
	return net.JoinHostPort(n.Address, n.Port)
}

// Config describes a static cluster.
type Config struct {
	WalDir   string `yaml:"wal_dir"`
	LogLevel string `yaml:"log_level"`
	Nodes    []Node `yaml:"nodes"`
}

// Read parse and validate a cluster config file.
func Read(file string) (*Config, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("config: no nodes")
	}

	ids := funk.Map(c.Nodes, func(n Node) uint64 { return n.ID }).([]uint64)
	if len(funk.Uniq(ids).([]uint64)) != len(ids) {
		return fmt.Errorf("config: duplicate node ids")
	}

	if len(c.Nodes)%2 == 0 {
		log.Warnf("config: cluster of %d nodes, quorum needs %d",
			len(c.Nodes), len(c.Nodes)/2+1)
	}
	return nil
}

// GetNode lookup a member by id.
func (c *Config) GetNode(id uint64) (Node, error) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("config: node %d not found", id)
}

// PeerAddrs return the id to address map consumed by the transport.
func (c *Config) PeerAddrs() map[uint64]string {
	addrs := make(map[uint64]string, len(c.Nodes))
	for i := range c.Nodes {
		addrs[c.Nodes[i].ID] = c.Nodes[i].Addr()
	}
	return addrs
}

// NodeIDs return every member id, the local one included.
func (c *Config) NodeIDs() []uint64 {
	ids := make([]uint64, 0, len(c.Nodes))
	for i := range c.Nodes {
		ids = append(ids, c.Nodes[i].ID)
	}
	return ids
}
