package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestReadConfig(t *testing.T) {
	path := writeConfig(t, `
wal_dir: /var/lib/chfs
log_level: debug
nodes:
  - id: 0
    address: 127.0.0.1
    port: "9001"
  - id: 1
    address: 127.0.0.1
    port: "9002"
  - id: 2
    address: 127.0.0.1
    port: "9003"
`)

	c, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chfs", c.WalDir)
	assert.Len(t, c.Nodes, 3)

	n, err := c.GetNode(1)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9002", n.Addr())

	_, err = c.GetNode(9)
	assert.Error(t, err)

	assert.Equal(t, []uint64{0, 1, 2}, c.NodeIDs())
	assert.Equal(t, "127.0.0.1:9003", c.PeerAddrs()[2])
}

func TestReadConfigRejectsDuplicateIDs(t *testing.T) {
	path := writeConfig(t, `
nodes:
  - id: 1
    address: 127.0.0.1
    port: "9001"
  - id: 1
    address: 127.0.0.1
    port: "9002"
`)

	_, err := Read(path)
	assert.Error(t, err)
}

func TestReadConfigRejectsEmpty(t *testing.T) {
	path := writeConfig(t, "wal_dir: /tmp/x\n")
	_, err := Read(path)
	assert.Error(t, err)
}
