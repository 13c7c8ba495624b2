package transport

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"strconv"

	"github.com/quartzkv/quartz/pkg/raft"
)

// RaftServiceName is the framed-RPC service carrying the consensus
// RPCs.
const RaftServiceName = "RaftService"

const (
	methodRequestVote     = "RequestVote"
	methodAppendEntries   = "AppendEntries"
	methodInstallSnapshot = "InstallSnapshot"
)

// SplitEndpoint parses "ip:port".
func SplitEndpoint(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("bad endpoint %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("bad port in %q: %w", addr, err)
	}
	return host, uint16(port), nil
}

// RaftTransport implements raft.Transport over pooled framed-TCP
// channels.
type RaftTransport struct {
	pool  *Pool
	addrs map[string]string // node id -> "ip:port"
}

// NewRaftTransport wires a transport over pool; addrs maps node ids
// to endpoints.
func NewRaftTransport(pool *Pool, addrs map[string]string) *RaftTransport {
	if pool == nil {
		pool = Default()
	}
	return &RaftTransport{pool: pool, addrs: addrs}
}

func (t *RaftTransport) call(ctx context.Context, target, method string, args, reply interface{}) error {
	addr, ok := t.addrs[target]
	if !ok {
		return raft.ErrNodeNotFound
	}
	ip, port, err := SplitEndpoint(addr)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(args); err != nil {
		return fmt.Errorf("encode %s args: %w", method, err)
	}

	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := t.pool.Get(ip, port)
		if err != nil {
			done <- result{err: err}
			return
		}
		payload, err := ch.Call(RaftServiceName, method, buf.Bytes())
		t.pool.Return(ch, ip, port)
		done <- result{payload: payload, err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res.err != nil {
			return res.err
		}
		if err := gob.NewDecoder(bytes.NewReader(res.payload)).Decode(reply); err != nil {
			return fmt.Errorf("decode %s reply: %w", method, err)
		}
		return nil
	}
}

func (t *RaftTransport) RequestVote(ctx context.Context, target string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	var resp raft.RequestVoteResponse
	if err := t.call(ctx, target, methodRequestVote, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *RaftTransport) AppendEntries(ctx context.Context, target string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	var resp raft.AppendEntriesResponse
	if err := t.call(ctx, target, methodAppendEntries, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *RaftTransport) InstallSnapshot(ctx context.Context, target string, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	var resp raft.InstallSnapshotResponse
	if err := t.call(ctx, target, methodInstallSnapshot, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterRaftService exposes a peer's consensus handlers on a framed
// server.
func RegisterRaftService(s *Server, p *raft.Peer) {
	s.Register(RaftServiceName, func(method string, args []byte) ([]byte, error) {
		switch method {
		case methodRequestVote:
			var req raft.RequestVoteRequest
			if err := gob.NewDecoder(bytes.NewReader(args)).Decode(&req); err != nil {
				return nil, fmt.Errorf("decode %s: %w", method, err)
			}
			return encodeReply(p.HandleRequestVote(&req))
		case methodAppendEntries:
			var req raft.AppendEntriesRequest
			if err := gob.NewDecoder(bytes.NewReader(args)).Decode(&req); err != nil {
				return nil, fmt.Errorf("decode %s: %w", method, err)
			}
			return encodeReply(p.HandleAppendEntries(&req))
		case methodInstallSnapshot:
			var req raft.InstallSnapshotRequest
			if err := gob.NewDecoder(bytes.NewReader(args)).Decode(&req); err != nil {
				return nil, fmt.Errorf("decode %s: %w", method, err)
			}
			return encodeReply(p.HandleInstallSnapshot(&req))
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
