package grpctrans

import (
	"context"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"

	"github.com/quartzkv/quartz/pkg/api"
	"github.com/quartzkv/quartz/pkg/raft"
	"github.com/quartzkv/quartz/pkg/server"
)

// Server hosts the consensus and client services for one node over
// gRPC.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	peer       *raft.Peer
	kv         *server.KVServer
	logger     *log.Logger
}

// NewServer listens on addr and registers both services.
func NewServer(addr string, peer *raft.Peer, kv *server.KVServer, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := &Server{
		grpcServer: grpc.NewServer(),
		listener:   ln,
		peer:       peer,
		kv:         kv,
		logger:     logger,
	}
	s.grpcServer.RegisterService(raftServiceDesc(s), s)
	s.grpcServer.RegisterService(kvServiceDesc(s), s)
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks serving connections until Stop.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// Stop drains in-flight RPCs and shuts down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

func (s *Server) RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	return s.peer.HandleRequestVote(req), nil
}

func (s *Server) AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return s.peer.HandleAppendEntries(req), nil
}

func (s *Server) InstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	return s.peer.HandleInstallSnapshot(req), nil
}

func (s *Server) Get(ctx context.Context, args *api.GetArgs) (*api.GetReply, error) {
	return s.kv.Get(args), nil
}

func (s *Server) PutAppend(ctx context.Context, args *api.PutAppendArgs) (*api.PutAppendReply, error) {
	return s.kv.PutAppend(args), nil
}
