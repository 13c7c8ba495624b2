package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PoolStats counts channel lifecycle events for observability.
type PoolStats struct {
	Created   uint64
	Reused    uint64
	Discarded uint64
}

// Pool keeps reusable channels per "ip:port" endpoint. A process
// normally owns one Pool and injects it wherever channels are needed;
// Default exposes a lazily-built shared instance for convenience.
type Pool struct {
	mu    sync.Mutex
	pools map[string][]*Channel

	created   atomic.Uint64
	reused    atomic.Uint64
	discarded atomic.Uint64
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{pools: make(map[string][]*Channel)}
}

var (
	defaultPool     *Pool
	defaultPoolOnce sync.Once
)

// Default returns the process-wide pool.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool()
	})
	return defaultPool
}

func key(ip string, port uint16) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// Get pops a healthy channel for the endpoint, discarding unhealthy
// ones; when none remains it constructs a fresh channel (lazy
// connect, so Get itself never blocks on the network).
func (p *Pool) Get(ip string, port uint16) (*Channel, error) {
	k := key(ip, port)

	p.mu.Lock()
	for len(p.pools[k]) > 0 {
		ch := p.pools[k][0]
		p.pools[k] = p.pools[k][1:]
		if ch.IsHealthy() {
			p.mu.Unlock()
			p.reused.Add(1)
			return ch, nil
		}
		ch.Close()
		p.discarded.Add(1)
	}
	p.mu.Unlock()

	ch, err := NewChannel(ip, port, false)
	if err != nil {
		return nil, err
	}
	p.created.Add(1)
	return ch, nil
}

// Return gives a channel back for reuse; unhealthy channels are
// dropped instead.
func (p *Pool) Return(ch *Channel, ip string, port uint16) {
	if ch == nil {
		return
	}
	if !ch.IsHealthy() {
		ch.Close()
		p.discarded.Add(1)
		return
	}
	k := key(ip, port)
	p.mu.Lock()
	p.pools[k] = append(p.pools[k], ch)
	p.mu.Unlock()
}

// ClearPool closes every pooled channel for one endpoint.
func (p *Pool) ClearPool(ip string, port uint16) {
	k := key(ip, port)
	p.mu.Lock()
	chans := p.pools[k]
	delete(p.pools, k)
	p.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
		p.discarded.Add(1)
	}
}

// ClearAll closes everything.
func (p *Pool) ClearAll() {
	p.mu.Lock()
	all := p.pools
	p.pools = make(map[string][]*Channel)
	p.mu.Unlock()

	for _, chans := range all {
		for _, ch := range chans {
			ch.Close()
			p.discarded.Add(1)
		}
	}
}

// Size reports how many channels are pooled for an endpoint.
func (p *Pool) Size(ip string, port uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools[key(ip, port)])
}

// Stats returns the lifecycle counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Created:   p.created.Load(),
		Reused:    p.reused.Load(),
		Discarded: p.discarded.Load(),
	}
}
