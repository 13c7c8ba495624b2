package server

import (
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quartzkv/quartz/pkg/client"
	"github.com/quartzkv/quartz/pkg/kv"
	"github.com/quartzkv/quartz/pkg/raft"
	"github.com/quartzkv/quartz/pkg/transport"
)

// TestFramedTCPCluster drives a real three-node cluster over the
// framed transport: listeners, channel pool, varint framing, the lot.
func TestFramedTCPCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping socket cluster test in short mode")
	}

	const n = 3
	logger := func(id string) *log.Logger {
		return log.New(os.Stderr, fmt.Sprintf("[%s] ", id), log.Lmicroseconds)
	}

	// Bind listeners first so every peer knows the full address map.
	rpcServers := make([]*transport.Server, n)
	addrs := make(map[string]string)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("n%d", i)
		s, err := transport.NewServer("127.0.0.1:0", logger(id))
		require.NoError(t, err)
		rpcServers[i] = s
		addrs[id] = s.Addr()
	}

	pool := transport.NewPool()
	defer pool.ClearAll()

	peers := make([]*raft.Peer, n)
	servers := make([]*KVServer, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("n%d", i)
		store := kv.NewStore(nil)
		cfg := raft.DefaultConfig(id)
		cfg.Peers = addrs
		// Socket round trips are slower than the in-memory transport;
		// widen the timing profile to keep elections stable.
		cfg.ElectionTimeoutMin = 300 * time.Millisecond
		cfg.ElectionTimeoutMax = 600 * time.Millisecond
		cfg.HeartbeatInterval = 100 * time.Millisecond
		cfg.RPCTimeout = 250 * time.Millisecond

		peer, err := raft.NewPeer(cfg, transport.NewRaftTransport(pool, addrs),
			raft.NewMemPersister(), StateMachine{Store: store}, logger(id))
		require.NoError(t, err)
		peers[i] = peer
		servers[i] = NewKVServer(peer, store, logger(id))

		transport.RegisterRaftService(rpcServers[i], peer)
		RegisterKVService(rpcServers[i], servers[i])
		go rpcServers[i].Serve()
	}
	defer func() {
		for i := 0; i < n; i++ {
			peers[i].Stop()
			rpcServers[i].Stop()
		}
	}()

	for _, p := range peers {
		p.Start()
	}

	// Clerk over real TCP clients.
	clients := make([]client.KVRPCClient, n)
	for i := 0; i < n; i++ {
		c, err := client.NewTCPKVClient(pool, addrs[fmt.Sprintf("n%d", i)])
		require.NoError(t, err)
		clients[i] = c
	}
	clerk := client.NewClerk(clients, nil)

	clerk.Put("wire", "works")
	require.Equal(t, "works", clerk.Get("wire"))

	clerk.Append("seq", "a")
	clerk.Append("seq", "b")
	require.Equal(t, "ab", clerk.Get("seq"))

	// The pool should have been exercised.
	stats := pool.Stats()
	require.Greater(t, stats.Created, uint64(0))
}
