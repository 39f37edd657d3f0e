package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/lithammer/shortuuid/v3"
	log "github.com/sirupsen/logrus"

	"github.com/luoshicai/chfs-filesystem/chfs"
	"github.com/luoshicai/chfs-filesystem/config"
	"github.com/luoshicai/chfs-filesystem/raft"
	"github.com/luoshicai/chfs-filesystem/raft/storage"
	"github.com/luoshicai/chfs-filesystem/transport"
)

func main() {
	configPath := flag.String("config", "cluster.yaml", "cluster config file")
	nodeID := flag.Uint64("id", 0, "local node id")
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		log.Fatalf("read config: %v", err)
	}

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	runID := shortuuid.New()
	log.WithFields(log.Fields{"node": *nodeID, "run": runID}).
		Info("chfsd starting")

	local, err := cfg.GetNode(*nodeID)
	if err != nil {
		log.Fatalf("%v", err)
	}

	dir := filepath.Join(cfg.WalDir, strconv.FormatUint(*nodeID, 10))
	store, err := storage.MakeStorage(dir)
	if err != nil {
		log.Fatalf("open storage at %s: %v", dir, err)
	}

	client, err := transport.MakeClient(*nodeID, cfg.PeerAddrs())
	if err != nil {
		log.Fatalf("dial peers: %v", err)
	}

	sm := chfs.MakeStateMachine()
	replica, err := raft.MakeReplica(*nodeID, cfg.NodeIDs(), store, sm, client)
	if err != nil {
		log.Fatalf("build replica: %v", err)
	}

	srv, err := transport.MakeServer(local.Addr(), replica)
	if err != nil {
		log.Fatalf("register rpc surface: %v", err)
	}

	replica.Start()
	go func() {
		if err := srv.Serve(); err != nil {
			log.Errorf("rpc server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.WithField("run", runID).Info("chfsd stopping")
	srv.Close()
	replica.Stop()
	client.Close()
}
