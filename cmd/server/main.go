package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quartzkv/quartz/pkg/api"
	"github.com/quartzkv/quartz/pkg/config"
	"github.com/quartzkv/quartz/pkg/grpctrans"
	"github.com/quartzkv/quartz/pkg/kv"
	"github.com/quartzkv/quartz/pkg/persist"
	"github.com/quartzkv/quartz/pkg/raft"
	"github.com/quartzkv/quartz/pkg/server"
	"github.com/quartzkv/quartz/pkg/transport"
)

const (
	exitOK     = 0
	exitUsage  = 1
	exitConfig = 2
)

func main() {
	nodeID := flag.Int("node-id", -1, "Index of this node in the config file")
	configFile := flag.String("config-file", "", "Cluster config file (nodeNip/nodeNport entries)")
	maxRaftState := flag.Int64("max-raftstate-size", 8*1024*1024, "Snapshot once persisted raft state exceeds this many bytes")
	logDir := flag.String("log-dir", "./data", "Directory for persistent state")
	transportKind := flag.String("transport", "tcp", "Peer transport: tcp or grpc")
	httpAddr := flag.String("http-addr", "", "Optional HTTP status API address")
	flag.Parse()

	if *nodeID < 0 || *configFile == "" {
		flag.Usage()
		os.Exit(exitUsage)
	}
	if *transportKind != "tcp" && *transportKind != "grpc" {
		fmt.Fprintf(os.Stderr, "unknown transport %q\n", *transportKind)
		os.Exit(exitUsage)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfig)
	}
	peers := cfg.Peers()
	if *nodeID >= len(peers) {
		fmt.Fprintf(os.Stderr, "config error: node-id %d out of range (%d nodes)\n", *nodeID, len(peers))
		os.Exit(exitConfig)
	}

	me := config.NodeID(*nodeID)
	listenAddr := peers[*nodeID]
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", me), log.LstdFlags|log.Lmicroseconds)

	logger.Printf("starting: addr=%s transport=%s peers=%d log-dir=%s",
		listenAddr, *transportKind, len(peers), *logDir)

	persister, err := persist.New(*logDir, *nodeID)
	if err != nil {
		logger.Fatalf("open persister: %v", err)
	}

	store := kv.NewStore(nil)

	raftCfg := raft.DefaultConfig(me)
	raftCfg.Peers = cfg.PeerMap()
	raftCfg.MaxRaftStateSize = *maxRaftState

	pool := transport.Default()

	var peerTransport raft.Transport
	switch *transportKind {
	case "tcp":
		peerTransport = transport.NewRaftTransport(pool, cfg.PeerMap())
	case "grpc":
		peerTransport = grpctrans.NewRaftTransport(cfg.PeerMap())
	}

	peer, err := raft.NewPeer(raftCfg, peerTransport, persister, server.StateMachine{Store: store}, logger)
	if err != nil {
		logger.Fatalf("create peer: %v", err)
	}
	kvServer := server.NewKVServer(peer, store, logger)

	var stopRPC func()
	switch *transportKind {
	case "tcp":
		rpcServer, err := transport.NewServer(listenAddr, logger)
		if err != nil {
			logger.Fatalf("start rpc server: %v", err)
		}
		transport.RegisterRaftService(rpcServer, peer)
		server.RegisterKVService(rpcServer, kvServer)
		go func() {
			if err := rpcServer.Serve(); err != nil {
				logger.Fatalf("rpc server: %v", err)
			}
		}()
		stopRPC = rpcServer.Stop
	case "grpc":
		rpcServer, err := grpctrans.NewServer(listenAddr, peer, kvServer, logger)
		if err != nil {
			logger.Fatalf("start grpc server: %v", err)
		}
		go func() {
			if err := rpcServer.Serve(); err != nil {
				logger.Fatalf("grpc server: %v", err)
			}
		}()
		stopRPC = rpcServer.Stop
	}

	peer.Start()

	var apiServer *http.Server
	if *httpAddr != "" {
		apiServer = &http.Server{
			Addr:    *httpAddr,
			Handler: api.NewHTTPHandler(peer, store, pool),
		}
		go func() {
			logger.Printf("http status api on %s", *httpAddr)
			if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("http server: %v", err)
			}
		}()
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	<-sigC

	logger.Printf("shutting down")

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		apiServer.Shutdown(ctx)
		cancel()
	}
	stopRPC()
	peer.Stop()
	pool.ClearAll()
	if err := persister.Close(); err != nil {
		logger.Printf("close persister: %v", err)
	}

	logger.Printf("shutdown complete")
	os.Exit(exitOK)
}
