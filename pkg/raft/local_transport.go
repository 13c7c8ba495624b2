package raft

import (
	"context"
	"sync"
	"time"
)

// LocalTransport is an in-memory Transport connecting peers in one
// process. Tests use it to drive elections, partitions and snapshot
// catch-up without sockets.
type LocalTransport struct {
	mu       sync.RWMutex
	peers    map[string]*Peer
	disabled map[string]map[string]bool // disabled[from][to]
	latency  time.Duration
}

// NewLocalTransport returns an empty registry.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		peers:    make(map[string]*Peer),
		disabled: make(map[string]map[string]bool),
	}
}

// Register adds a peer to the in-memory network.
func (t *LocalTransport) Register(id string, p *Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = p
	if t.disabled[id] == nil {
		t.disabled[id] = make(map[string]bool)
	}
}

// SetLatency applies an artificial delay to every RPC.
func (t *LocalTransport) SetLatency(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latency = d
}

// Disconnect drops traffic from -> to.
func (t *LocalTransport) Disconnect(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled[from] == nil {
		t.disabled[from] = make(map[string]bool)
	}
	t.disabled[from][to] = true
}

// Connect restores traffic from -> to.
func (t *LocalTransport) Connect(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled[from] != nil {
		delete(t.disabled[from], to)
	}
}

// Partition isolates a node in both directions.
func (t *LocalTransport) Partition(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for other := range t.peers {
		if other == id {
			continue
		}
		if t.disabled[id] == nil {
			t.disabled[id] = make(map[string]bool)
		}
		if t.disabled[other] == nil {
			t.disabled[other] = make(map[string]bool)
		}
		t.disabled[id][other] = true
		t.disabled[other][id] = true
	}
}

// Heal restores all connectivity for a node.
func (t *LocalTransport) Heal(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disabled[id] = make(map[string]bool)
	for other := range t.peers {
		if t.disabled[other] != nil {
			delete(t.disabled[other], id)
		}
	}
}

func (t *LocalTransport) lookup(from, to string) (*Peer, time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[to]
	if !ok {
		return nil, 0, false
	}
	if t.disabled[from] != nil && t.disabled[from][to] {
		return nil, 0, false
	}
	return p, t.latency, true
}

func (t *LocalTransport) RequestVote(ctx context.Context, target string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	p, latency, ok := t.lookup(req.CandidateID, target)
	if !ok {
		return nil, ErrNodeNotFound
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	return p.HandleRequestVote(req), nil
}

func (t *LocalTransport) AppendEntries(ctx context.Context, target string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	p, latency, ok := t.lookup(req.LeaderID, target)
	if !ok {
		return nil, ErrNodeNotFound
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	return p.HandleAppendEntries(req), nil
}

func (t *LocalTransport) InstallSnapshot(ctx context.Context, target string, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	p, latency, ok := t.lookup(req.LeaderID, target)
	if !ok {
		return nil, ErrNodeNotFound
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	return p.HandleInstallSnapshot(req), nil
}
