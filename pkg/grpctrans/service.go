package grpctrans

import (
	"context"

	"google.golang.org/grpc"

	"github.com/quartzkv/quartz/pkg/api"
	"github.com/quartzkv/quartz/pkg/raft"
)

const (
	raftServiceName = "quartz.RaftService"
	kvServiceName   = "quartz.KVService"

	fullRequestVote     = "/" + raftServiceName + "/RequestVote"
	fullAppendEntries   = "/" + raftServiceName + "/AppendEntries"
	fullInstallSnapshot = "/" + raftServiceName + "/InstallSnapshot"
	fullGet             = "/" + kvServiceName + "/Get"
	fullPutAppend       = "/" + kvServiceName + "/PutAppend"
)

// RaftServiceServer is the server side of the consensus RPCs.
type RaftServiceServer interface {
	RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
	AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error)
}

// KVServiceServer is the server side of the client RPCs.
type KVServiceServer interface {
	Get(ctx context.Context, args *api.GetArgs) (*api.GetReply, error)
	PutAppend(ctx context.Context, args *api.PutAppendArgs) (*api.PutAppendReply, error)
}

func unaryHandler[Req any, Resp any](
	full string,
	call func(ctx context.Context, req *Req) (*Resp, error),
) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*Req))
		})
	}
}

func raftServiceDesc(impl RaftServiceServer) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: raftServiceName,
		HandlerType: (*RaftServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "RequestVote", Handler: unaryHandler(fullRequestVote, impl.RequestVote)},
			{MethodName: "AppendEntries", Handler: unaryHandler(fullAppendEntries, impl.AppendEntries)},
			{MethodName: "InstallSnapshot", Handler: unaryHandler(fullInstallSnapshot, impl.InstallSnapshot)},
		},
		Streams: []grpc.StreamDesc{},
	}
}

func kvServiceDesc(impl KVServiceServer) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: kvServiceName,
		HandlerType: (*KVServiceServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Get", Handler: unaryHandler(fullGet, impl.Get)},
			{MethodName: "PutAppend", Handler: unaryHandler(fullPutAppend, impl.PutAppend)},
		},
		Streams: []grpc.StreamDesc{},
	}
}
