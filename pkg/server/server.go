// Package server exposes the replicated store to clients: it routes
// each operation through the consensus log, waits for the applier to
// reach the proposed index, and translates outcomes into the client
// reply codes. Reads go through the log too, which keeps them
// linearizable without a separate read path.
package server

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"time"

	"github.com/quartzkv/quartz/pkg/api"
	"github.com/quartzkv/quartz/pkg/kv"
	"github.com/quartzkv/quartz/pkg/raft"
	"github.com/quartzkv/quartz/pkg/transport"
)

// DefaultApplyWait bounds how long a request waits for its log index
// to apply before the client is told to try elsewhere.
const DefaultApplyWait = 2 * time.Second

// StateMachine adapts the kv store to the consensus engine's
// capability set.
type StateMachine struct {
	*kv.Store
}

// Apply satisfies raft.StateMachine.
func (m StateMachine) Apply(command []byte, index uint64) (interface{}, error) {
	return m.Store.Apply(command, index)
}

// KVServer serves Get/PutAppend against one peer.
type KVServer struct {
	peer      *raft.Peer
	store     *kv.Store
	logger    *log.Logger
	applyWait time.Duration
}

// NewKVServer wires a server over an already-constructed peer and
// store.
func NewKVServer(peer *raft.Peer, store *kv.Store, logger *log.Logger) *KVServer {
	if logger == nil {
		logger = log.Default()
	}
	return &KVServer{
		peer:      peer,
		store:     store,
		logger:    logger,
		applyWait: DefaultApplyWait,
	}
}

// Get reads a key. The read is proposed as a log entry so the reply
// reflects every operation committed before it.
func (s *KVServer) Get(args *api.GetArgs) *api.GetReply {
	op := kv.Op{
		Type:      kv.OpGet,
		Key:       args.Key,
		ClientID:  args.ClientID,
		RequestID: args.RequestID,
	}
	result, err := s.submit(op)
	if err != api.OK {
		return &api.GetReply{Err: err}
	}
	if !result.Found {
		return &api.GetReply{Err: api.ErrNoKey}
	}
	return &api.GetReply{Err: api.OK, Value: result.Value}
}

// PutAppend applies a mutation. Duplicate requests are absorbed by the
// state machine's dedup table and still answer OK.
func (s *KVServer) PutAppend(args *api.PutAppendArgs) *api.PutAppendReply {
	var typ kv.OpType
	switch args.Op {
	case api.OpPut:
		typ = kv.OpPut
	case api.OpAppend:
		typ = kv.OpAppend
	default:
		return &api.PutAppendReply{Err: api.ErrWrongLeader}
	}

	op := kv.Op{
		Type:      typ,
		Key:       args.Key,
		Value:     args.Value,
		ClientID:  args.ClientID,
		RequestID: args.RequestID,
	}
	if _, err := s.submit(op); err != api.OK {
		return &api.PutAppendReply{Err: err}
	}
	return &api.PutAppendReply{Err: api.OK}
}

// submit proposes op and waits for the applier to reach its index. A
// different term at that index means another leader's entry won the
// slot; the client must retry.
func (s *KVServer) submit(op kv.Op) (kv.Reply, api.Err) {
	cmd, err := kv.EncodeOp(op)
	if err != nil {
		s.logger.Printf("kvserver: encode op: %v", err)
		return kv.Reply{}, api.ErrWrongLeader
	}

	index, term, ch, err := s.peer.Propose(cmd)
	if err != nil {
		return kv.Reply{}, api.ErrWrongLeader
	}

	select {
	case res := <-ch:
		if res.Term != term || res.Err != nil {
			return kv.Reply{}, api.ErrWrongLeader
		}
		reply, ok := res.Response.(kv.Reply)
		if !ok {
			return kv.Reply{}, api.ErrWrongLeader
		}
		return reply, api.OK
	case <-time.After(s.applyWait):
		s.peer.CancelWait(index)
		return kv.Reply{}, api.ErrWrongLeader
	}
}

// Peer returns the underlying consensus participant.
func (s *KVServer) Peer() *raft.Peer {
	return s.peer
}

// RegisterKVService exposes the client RPCs on a framed server.
func RegisterKVService(ts *transport.Server, s *KVServer) {
	ts.Register(api.KVServiceName, func(method string, args []byte) ([]byte, error) {
		switch method {
		case api.MethodGet:
			var req api.GetArgs
			if err := gob.NewDecoder(bytes.NewReader(args)).Decode(&req); err != nil {
				return nil, fmt.Errorf("decode %s: %w", method, err)
			}
			return encodeReply(s.Get(&req))
		case api.MethodPutAppend:
			var req api.PutAppendArgs
			if err := gob.NewDecoder(bytes.NewReader(args)).Decode(&req); err != nil {
				return nil, fmt.Errorf("decode %s: %w", method, err)
			}
			return encodeReply(s.PutAppend(&req))
		default:
			return nil, fmt.Errorf("unknown method %q", method)
		}
	})
}

func encodeReply(reply interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(reply); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return buf.Bytes(), nil
}
