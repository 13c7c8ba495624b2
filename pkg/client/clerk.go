// Package client implements the Clerk: the client-side router that
// carries Get/Put/Append calls to the cluster. Each clerk owns a
// stable random client id and a monotonically increasing request id;
// together with the servers' dedup table this makes retries after
// ambiguous failures safe. Server selection is leader-sticky with
// rotation on failure, and retries continue until an answer arrives —
// callers needing bounded retries wrap the clerk.
package client

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quartzkv/quartz/pkg/api"
)

// Clerk is one client session against the cluster.
type Clerk struct {
	servers   []KVRPCClient
	balancer  LoadBalancer
	clientID  string
	requestID atomic.Uint64
}

// NewClerk builds a clerk over the given per-server clients; nil
// balancer selects leader-sticky round robin starting at server 0.
func NewClerk(servers []KVRPCClient, balancer LoadBalancer) *Clerk {
	if balancer == nil {
		balancer = NewRoundRobin(len(servers), 0)
	}
	return &Clerk{
		servers:  servers,
		balancer: balancer,
		clientID: uuid.NewString(),
	}
}

// ClientID returns the clerk's stable identity.
func (c *Clerk) ClientID() string {
	return c.clientID
}

// Get fetches the value for key, empty string when absent.
func (c *Clerk) Get(key string) string {
	args := &api.GetArgs{
		Key:       key,
		ClientID:  c.clientID,
		RequestID: c.requestID.Add(1),
	}

	for {
		server := c.balancer.Select()
		reply, err := c.servers[server].Get(args)
		if err != nil || reply.Err == api.ErrWrongLeader {
			c.balancer.MarkFailure(server)
			continue
		}
		c.balancer.MarkSuccess(server)
		if reply.Err == api.ErrNoKey {
			return ""
		}
		return reply.Value
	}
}

// Put overwrites key with value.
func (c *Clerk) Put(key, value string) {
	c.putAppend(key, value, api.OpPut)
}

// Append concatenates value onto key, inserting when absent.
func (c *Clerk) Append(key, value string) {
	c.putAppend(key, value, api.OpAppend)
}

func (c *Clerk) putAppend(key, value, op string) {
	args := &api.PutAppendArgs{
		Key:       key,
		Value:     value,
		Op:        op,
		ClientID:  c.clientID,
		RequestID: c.requestID.Add(1),
	}

	for {
		server := c.balancer.Select()
		reply, err := c.servers[server].PutAppend(args)
		if err != nil || reply.Err == api.ErrWrongLeader {
			c.balancer.MarkFailure(server)
			continue
		}
		if reply.Err == api.OK {
			c.balancer.MarkSuccess(server)
			return
		}
	}
}
