package client

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartzkv/quartz/pkg/api"
)

func TestRoundRobinStickyLeader(t *testing.T) {
	b := NewRoundRobin(3, 0)
	require.Equal(t, 0, b.Select())

	// Failures rotate modulo N.
	b.MarkFailure(0)
	require.Equal(t, 1, b.Select())
	b.MarkFailure(1)
	require.Equal(t, 2, b.Select())
	b.MarkFailure(2)
	require.Equal(t, 0, b.Select())

	// Success pins the selection.
	b.MarkSuccess(1)
	require.Equal(t, 1, b.Select())
	require.Equal(t, 1, b.Select())
}

// scriptedServer answers from a queue of canned replies.
type scriptedServer struct {
	mu      sync.Mutex
	getQ    []*api.GetReply
	putQ    []*api.PutAppendReply
	errNext bool
	gets    int
	puts    int
}

func (s *scriptedServer) Get(args *api.GetArgs) (*api.GetReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.errNext {
		s.errNext = false
		return nil, errors.New("connection refused")
	}
	if len(s.getQ) == 0 {
		return &api.GetReply{Err: api.ErrWrongLeader}, nil
	}
	reply := s.getQ[0]
	s.getQ = s.getQ[1:]
	return reply, nil
}

func (s *scriptedServer) PutAppend(args *api.PutAppendArgs) (*api.PutAppendReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.errNext {
		s.errNext = false
		return nil, errors.New("connection refused")
	}
	if len(s.putQ) == 0 {
		return &api.PutAppendReply{Err: api.ErrWrongLeader}, nil
	}
	reply := s.putQ[0]
	s.putQ = s.putQ[1:]
	return reply, nil
}

func TestClerkRotatesOnWrongLeader(t *testing.T) {
	// Server 0 always answers WrongLeader; server 1 is the leader.
	s0 := &scriptedServer{}
	s1 := &scriptedServer{getQ: []*api.GetReply{{Err: api.OK, Value: "v"}, {Err: api.OK, Value: "v2"}}}

	clerk := NewClerk([]KVRPCClient{s0, s1}, nil)
	require.Equal(t, "v", clerk.Get("k"))
	require.Equal(t, 1, s0.gets)

	// The clerk is sticky: the follow-up goes straight to server 1.
	require.Equal(t, "v2", clerk.Get("k"))
	require.Equal(t, 1, s0.gets)
	require.Equal(t, 2, s1.gets)
}

func TestClerkRetriesTransportErrors(t *testing.T) {
	s0 := &scriptedServer{errNext: true}
	s1 := &scriptedServer{putQ: []*api.PutAppendReply{{Err: api.OK}}}

	clerk := NewClerk([]KVRPCClient{s0, s1}, nil)
	clerk.Put("k", "v")
	require.Equal(t, 1, s1.puts)
}

func TestClerkNoKeyIsEmptyString(t *testing.T) {
	s0 := &scriptedServer{getQ: []*api.GetReply{{Err: api.ErrNoKey}}}
	clerk := NewClerk([]KVRPCClient{s0}, nil)
	require.Equal(t, "", clerk.Get("missing"))
}

func TestClerkRequestIDsMonotonic(t *testing.T) {
	var seen []uint64
	s := &captureServer{ids: &seen}
	clerk := NewClerk([]KVRPCClient{s}, nil)

	clerk.Put("a", "1")
	clerk.Get("a")
	clerk.Append("a", "2")

	require.Equal(t, []uint64{1, 2, 3}, seen)
	require.NotEmpty(t, clerk.ClientID())
}

type captureServer struct {
	ids *[]uint64
}

func (s *captureServer) Get(args *api.GetArgs) (*api.GetReply, error) {
	*s.ids = append(*s.ids, args.RequestID)
	return &api.GetReply{Err: api.OK, Value: ""}, nil
}

func (s *captureServer) PutAppend(args *api.PutAppendArgs) (*api.PutAppendReply, error) {
	*s.ids = append(*s.ids, args.RequestID)
	return &api.PutAppendReply{Err: api.OK}, nil
}
