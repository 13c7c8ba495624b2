package raft

import "context"

// Transport carries the three consensus RPCs to a peer identified by
// node id. Implementations: the framed-TCP channel pool, the gRPC
// transport, and the in-memory LocalTransport used by tests.
type Transport interface {
	RequestVote(ctx context.Context, target string, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, target string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, target string, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
}

// Persister stores the raft-state blob and the snapshot blob. A
// buffered SaveRaftState must be followed by Flush before any RPC
// reply that exposes the saved state. SaveSnapshot is durable on
// return: callers rely on the snapshot being on disk before they
// write any raft state that references its boundary.
type Persister interface {
	SaveRaftState(data []byte) error
	SaveSnapshot(data []byte) error
	ReadRaftState() []byte
	ReadSnapshot() []byte
	RaftStateSize() int64
	Flush() error
}

// StateMachine consumes committed commands in log order.
type StateMachine interface {
	Apply(command []byte, index uint64) (interface{}, error)
	TakeSnapshot() ([]byte, error)
	InstallSnapshot(data []byte) error
}
