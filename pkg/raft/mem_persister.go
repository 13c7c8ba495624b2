package raft

import "sync"

// MemPersister is an in-memory Persister. Tests and simulations use it
// to restart peers without touching disk; the data survives as long as
// the MemPersister itself, so handing the same instance to a new peer
// models a crash-recovery cycle.
type MemPersister struct {
	mu        sync.Mutex
	raftState []byte
	snapshot  []byte
}

// NewMemPersister returns an empty store.
func NewMemPersister() *MemPersister {
	return &MemPersister{}
}

func (m *MemPersister) SaveRaftState(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raftState = append([]byte(nil), data...)
	return nil
}

func (m *MemPersister) SaveSnapshot(snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = append([]byte(nil), snapshot...)
	return nil
}

func (m *MemPersister) ReadRaftState() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.raftState...)
}

func (m *MemPersister) ReadSnapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.snapshot...)
}

func (m *MemPersister) RaftStateSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.raftState))
}

func (m *MemPersister) Flush() error {
	return nil
}
