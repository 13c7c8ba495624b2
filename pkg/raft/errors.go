package raft

import "errors"

var (
	// ErrNotLeader rejects proposals on followers and candidates.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrShutdown is returned once the peer has stopped.
	ErrShutdown = errors.New("raft: peer shut down")

	// ErrNodeNotFound is returned by transports for unknown or
	// unreachable targets.
	ErrNodeNotFound = errors.New("raft: node not found")

	// ErrTimeout names a proposal that was not applied within a caller's
	// wait budget. The peer itself never returns it; pkg/server reports
	// such a timeout to clients as WrongLeader.
	ErrTimeout = errors.New("raft: apply timeout")
)
