package grpctrans

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quartzkv/quartz/pkg/api"
	"github.com/quartzkv/quartz/pkg/raft"
)

// dialer caches one client connection per target address.
type dialer struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func newDialer() *dialer {
	return &dialer{conns: make(map[string]*grpc.ClientConn)}
}

func (d *dialer) get(addr string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if conn, ok := d.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	d.conns[addr] = conn
	return conn, nil
}

func (d *dialer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, conn := range d.conns {
		conn.Close()
		delete(d.conns, addr)
	}
}

// RaftTransport implements raft.Transport over gRPC.
type RaftTransport struct {
	dialer *dialer
	addrs  map[string]string // node id -> address
}

// NewRaftTransport builds the transport; addrs maps node ids to gRPC
// endpoints.
func NewRaftTransport(addrs map[string]string) *RaftTransport {
	return &RaftTransport{dialer: newDialer(), addrs: addrs}
}

// Close releases every cached connection.
func (t *RaftTransport) Close() {
	t.dialer.close()
}

func (t *RaftTransport) invoke(ctx context.Context, target, full string, req, resp interface{}) error {
	addr, ok := t.addrs[target]
	if !ok {
		return raft.ErrNodeNotFound
	}
	conn, err := t.dialer.get(addr)
	if err != nil {
		return err
	}
	return conn.Invoke(ctx, full, req, resp)
}

func (t *RaftTransport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	var resp raft.RequestVoteResponse
	if err := t.invoke(ctx, target, fullRequestVote, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *RaftTransport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	var resp raft.AppendEntriesResponse
	if err := t.invoke(ctx, target, fullAppendEntries, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *RaftTransport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	var resp raft.InstallSnapshotResponse
	if err := t.invoke(ctx, target, fullInstallSnapshot, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// KVClient is a gRPC implementation of the clerk's per-server client.
type KVClient struct {
	dialer *dialer
	addr   string
}

// NewKVClient builds a client for one server address.
func NewKVClient(addr string) *KVClient {
	return &KVClient{dialer: newDialer(), addr: addr}
}

// Close releases the connection.
func (c *KVClient) Close() {
	c.dialer.close()
}

func (c *KVClient) Get(args *api.GetArgs) (*api.GetReply, error) {
	conn, err := c.dialer.get(c.addr)
	if err != nil {
		return nil, err
	}
	var reply api.GetReply
	if err := conn.Invoke(context.Background(), fullGet, args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *KVClient) PutAppend(args *api.PutAppendArgs) (*api.PutAppendReply, error) {
	conn, err := c.dialer.get(c.addr)
	if err != nil {
		return nil, err
	}
	var reply api.PutAppendReply
	if err := conn.Invoke(context.Background(), fullPutAppend, args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
