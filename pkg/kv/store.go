// Package kv implements the replicated state machine: an ordered-map
// store fronted by a per-client deduplication table. Commands arrive as
// opaque bytes from committed log entries and are applied at most once
// per (clientId, requestId); the last reply per client is cached so a
// retried request returns its original answer.
package kv

import (
	"bytes"
	"encoding/gob"
	"sync"
)

// OpType enumerates the state-machine operations.
type OpType int

const (
	OpGet OpType = iota
	OpPut
	OpAppend
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpGet:
		return "Get"
	case OpPut:
		return "Put"
	case OpAppend:
		return "Append"
	case OpDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Op is the command carried inside a log entry.
type Op struct {
	Type      OpType
	Key       string
	Value     string
	ClientID  string
	RequestID uint64
}

// Reply is what Apply hands back for an op (and what the session cache
// replays for duplicates).
type Reply struct {
	Value string
	Found bool
}

// ClientSession tracks the newest request applied for one client.
type ClientSession struct {
	LastRequestID uint64
	LastReply     Reply
}

// Store is the KV state machine.
type Store struct {
	mu       sync.RWMutex
	engine   StorageEngine
	sessions map[string]*ClientSession
}

// NewStore builds a state machine over the given engine; nil selects
// the in-memory engine.
func NewStore(engine StorageEngine) *Store {
	if engine == nil {
		engine = NewMemoryEngine()
	}
	return &Store{
		engine:   engine,
		sessions: make(map[string]*ClientSession),
	}
}

// EncodeOp serializes an op for log storage.
func EncodeOp(op Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(op); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeOp is the inverse of EncodeOp.
func DecodeOp(data []byte) (Op, error) {
	var op Op
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&op)
	return op, err
}

// Apply executes one committed command. A command whose requestId does
// not exceed the client's last applied requestId is a no-op against the
// engine; the cached reply is returned instead. index is the log index
// the entry committed at (unused by the map engine but part of the
// state-machine contract).
func (s *Store) Apply(command []byte, index uint64) (Reply, error) {
	op, err := DecodeOp(command)
	if err != nil {
		return Reply{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[op.ClientID]; ok && op.RequestID <= session.LastRequestID {
		return session.LastReply, nil
	}

	var reply Reply
	switch op.Type {
	case OpGet:
		reply.Value, reply.Found = s.engine.Get(op.Key)
	case OpPut:
		s.engine.Put(op.Key, op.Value)
		reply.Found = true
	case OpAppend:
		s.engine.Append(op.Key, op.Value)
		reply.Found = true
	case OpDelete:
		s.engine.Delete(op.Key)
		reply.Found = true
	}

	s.sessions[op.ClientID] = &ClientSession{
		LastRequestID: op.RequestID,
		LastReply:     reply,
	}
	return reply, nil
}

// Get reads directly from the engine. Linearizability of reads is the
// caller's concern: the server routes Gets through the log.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Get(key)
}

// IsDuplicate reports whether (clientID, requestID) was already applied.
func (s *Store) IsDuplicate(clientID string, requestID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[clientID]
	return ok && requestID <= session.LastRequestID
}

// Len returns the number of keys in the engine.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Len()
}

// snapshotState is the serialized form of a snapshot: the engine's
// payload plus the dedup table.
type snapshotState struct {
	Engine   []byte
	Sessions map[string]*ClientSession
}

// TakeSnapshot captures the store and the dedup table as opaque bytes.
func (s *Store) TakeSnapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	engineData, err := s.engine.Serialize()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(snapshotState{
		Engine:   engineData,
		Sessions: s.sessions,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InstallSnapshot replaces the store and dedup table with the snapshot
// contents.
func (s *Store) InstallSnapshot(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var state snapshotState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.Restore(state.Engine); err != nil {
		return err
	}
	if state.Sessions == nil {
		state.Sessions = make(map[string]*ClientSession)
	}
	s.sessions = state.Sessions
	return nil
}
