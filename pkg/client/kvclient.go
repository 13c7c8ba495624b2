package client

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/quartzkv/quartz/pkg/api"
	"github.com/quartzkv/quartz/pkg/transport"
)

// KVRPCClient is the clerk's view of one server. Implementations:
// the framed-TCP client below, the gRPC client in pkg/grpctrans, and
// in-process fakes in tests.
type KVRPCClient interface {
	Get(args *api.GetArgs) (*api.GetReply, error)
	PutAppend(args *api.PutAppendArgs) (*api.PutAppendReply, error)
}

// TCPKVClient talks to one server over pooled framed channels.
type TCPKVClient struct {
	pool *transport.Pool
	ip   string
	port uint16
}

// NewTCPKVClient builds a client for addr ("ip:port"); nil pool uses
// the process default.
func NewTCPKVClient(pool *transport.Pool, addr string) (*TCPKVClient, error) {
	ip, port, err := transport.SplitEndpoint(addr)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = transport.Default()
	}
	return &TCPKVClient{pool: pool, ip: ip, port: port}, nil
}

func (c *TCPKVClient) call(method string, args, reply interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(args); err != nil {
		return fmt.Errorf("encode %s args: %w", method, err)
	}

	ch, err := c.pool.Get(c.ip, c.port)
	if err != nil {
		return err
	}
	payload, err := ch.Call(api.KVServiceName, method, buf.Bytes())
	c.pool.Return(ch, c.ip, c.port)
	if err != nil {
		return err
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

func (c *TCPKVClient) Get(args *api.GetArgs) (*api.GetReply, error) {
	var reply api.GetReply
	if err := c.call(api.MethodGet, args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *TCPKVClient) PutAppend(args *api.PutAppendArgs) (*api.PutAppendReply, error) {
	var reply api.PutAppendReply
	if err := c.call(api.MethodPutAppend, args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
