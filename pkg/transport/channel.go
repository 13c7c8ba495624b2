package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the health of a channel.
type State int32

const (
	StateHealthy State = iota
	StateProbing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "Healthy"
	case StateProbing:
		return "Probing"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

const (
	// MaxFailures is the consecutive-failure count that moves a
	// channel from Probing to Disconnected.
	MaxFailures = 3

	// HeartbeatInterval is the idle time after which a Healthy channel
	// pings its peer.
	HeartbeatInterval = 10 * time.Second

	// ProbeInterval is the shorter idle interval used while Probing.
	ProbeInterval = 5 * time.Second

	// DefaultCallTimeout bounds each call: one socket deadline covers
	// the request send and the reply receive together.
	DefaultCallTimeout = 5 * time.Second

	dialTimeout = 5 * time.Second
)

// HealthService and PingMethod name the built-in heartbeat RPC every
// server answers. The idle heartbeat is a real framed request, not a
// zero-length socket write.
const (
	HealthService = "Health"
	PingMethod    = "Ping"
)

// Channel is one long-lived connection to a peer endpoint. Calls are
// serialized; the health FSM runs on atomics so the pool can inspect
// it without locking.
type Channel struct {
	ip   string
	port uint16

	callMu sync.Mutex // serializes request/response pairs
	conn   net.Conn

	state        atomic.Int32
	failureCount atomic.Int32
	lastActive   atomic.Int64 // unix millis
	closed       atomic.Bool

	timerMu sync.Mutex
	timer   *time.Timer

	timeout time.Duration
}

// NewChannel builds a channel to ip:port. With connectNow false the
// dial is deferred to the first call.
func NewChannel(ip string, port uint16, connectNow bool) (*Channel, error) {
	c := &Channel{
		ip:      ip,
		port:    port,
		timeout: DefaultCallTimeout,
	}
	c.state.Store(int32(StateHealthy))
	c.touch()

	if connectNow {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}
	c.scheduleHeartbeat()
	return c, nil
}

// Addr returns the endpoint this channel targets.
func (c *Channel) Addr() string {
	return fmt.Sprintf("%s:%d", c.ip, c.port)
}

// State returns the current health state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// IsHealthy reports whether the channel is usable without repair.
func (c *Channel) IsHealthy() bool {
	return c.State() == StateHealthy
}

// IsDisconnected reports whether the channel has been given up on.
func (c *Channel) IsDisconnected() bool {
	return c.State() == StateDisconnected
}

// Call performs one framed request/response round trip. A channel in
// Disconnected fails fast; transport failures drive the health FSM.
func (c *Channel) Call(service, method string, args []byte) ([]byte, error) {
	if c.closed.Load() || c.IsDisconnected() {
		return nil, ErrDisconnected
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.conn == nil {
		if err := c.connect(); err != nil {
			c.handleFailure()
			return nil, err
		}
	}

	deadline := time.Now().Add(c.timeout)
	c.conn.SetDeadline(deadline)

	if err := WriteFrame(c.conn, Header{Service: service, Method: method}, args); err != nil {
		c.dropConnLocked()
		c.handleFailure()
		return nil, fmt.Errorf("send %s.%s: %w", service, method, err)
	}

	h, payload, err := ReadFrame(c.conn)
	if err != nil {
		c.dropConnLocked()
		c.handleFailure()
		return nil, fmt.Errorf("recv %s.%s: %w", service, method, err)
	}
	if h.Err != "" {
		// The peer answered; the transport is fine.
		c.handleSuccess()
		return nil, fmt.Errorf("%s.%s: %s", service, method, h.Err)
	}

	c.handleSuccess()
	return payload, nil
}

// Ping sends the application-level heartbeat.
func (c *Channel) Ping() error {
	_, err := c.Call(HealthService, PingMethod, nil)
	return err
}

// Close tears the channel down: socket closed, timer cancelled, state
// Disconnected. Any in-flight heartbeat closure observes closed and
// no-ops.
func (c *Channel) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.cancelHeartbeat()
	c.state.Store(int32(StateDisconnected))

	c.callMu.Lock()
	c.dropConnLocked()
	c.callMu.Unlock()
}

func (c *Channel) connect() error {
	conn, err := net.DialTimeout("tcp", c.Addr(), dialTimeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.Addr(), err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}
	c.conn = conn
	return nil
}

func (c *Channel) dropConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Channel) touch() {
	c.lastActive.Store(time.Now().UnixMilli())
}

func (c *Channel) handleSuccess() {
	c.failureCount.Store(0)
	c.state.Store(int32(StateHealthy))
	c.touch()
	c.scheduleHeartbeat()
}

func (c *Channel) handleFailure() {
	failures := c.failureCount.Add(1)
	switch {
	case failures >= MaxFailures:
		c.state.Store(int32(StateDisconnected))
		c.cancelHeartbeat()
	default:
		c.state.Store(int32(StateProbing))
		c.scheduleHeartbeat()
	}
	c.touch()
}

// scheduleHeartbeat (re)arms the idle timer. The closure holds only a
// non-owning reference: once Close has run it does nothing.
func (c *Channel) scheduleHeartbeat() {
	if c.closed.Load() {
		return
	}

	interval := HeartbeatInterval
	if c.State() == StateProbing {
		interval = ProbeInterval
	}

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(interval, c.checkIdle)
}

func (c *Channel) cancelHeartbeat() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// checkIdle fires from the heartbeat timer. If traffic happened since
// arming, it just re-arms; otherwise it pings, and the ping's outcome
// drives the FSM through the usual success/failure paths.
func (c *Channel) checkIdle() {
	if c.closed.Load() || c.IsDisconnected() {
		return
	}

	interval := HeartbeatInterval
	if c.State() == StateProbing {
		interval = ProbeInterval
	}
	idle := time.Since(time.UnixMilli(c.lastActive.Load()))
	if idle < interval {
		c.scheduleHeartbeat()
		return
	}

	// Ping resolves the FSM transition itself; nothing more to do
	// here. Call re-arms the timer on success and on a failure that
	// leaves the channel Probing; reaching Disconnected cancels it.
	c.Ping()
}
