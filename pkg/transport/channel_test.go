package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startEchoServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer("127.0.0.1:0", nil)
	require.NoError(t, err)
	s.Register("Echo", func(method string, args []byte) ([]byte, error) {
		return args, nil
	})
	go s.Serve()
	t.Cleanup(s.Stop)
	return s
}

func TestChannelCallEcho(t *testing.T) {
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	ch, err := NewChannel(ip, port, true)
	require.NoError(t, err)
	defer ch.Close()

	reply, err := ch.Call("Echo", "Any", []byte("ping-pong"))
	require.NoError(t, err)
	require.Equal(t, []byte("ping-pong"), reply)
	require.Equal(t, StateHealthy, ch.State())
}

func TestChannelPing(t *testing.T) {
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	ch, err := NewChannel(ip, port, true)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Ping())
	require.True(t, ch.IsHealthy())
}

func TestChannelHealthFSM(t *testing.T) {
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	ch, err := NewChannel(ip, port, true)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Call("Echo", "Any", []byte("warm"))
	require.NoError(t, err)

	// Kill the server: the next calls fail, walking the channel
	// Healthy -> Probing -> Disconnected.
	s.Stop()

	_, err = ch.Call("Echo", "Any", nil)
	require.Error(t, err)
	require.Equal(t, StateProbing, ch.State())

	_, err = ch.Call("Echo", "Any", nil)
	require.Error(t, err)
	require.Equal(t, StateProbing, ch.State())

	_, err = ch.Call("Echo", "Any", nil)
	require.Error(t, err)
	require.Equal(t, StateDisconnected, ch.State())

	// Disconnected channels fail fast.
	_, err = ch.Call("Echo", "Any", nil)
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestChannelHandlerErrorIsNotTransportFailure(t *testing.T) {
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	ch, err := NewChannel(ip, port, true)
	require.NoError(t, err)
	defer ch.Close()

	// Unknown service: the peer answers with an error reply, so the
	// transport stays healthy.
	_, err = ch.Call("NoSuchService", "M", nil)
	require.Error(t, err)
	require.Equal(t, StateHealthy, ch.State())
}

func TestChannelLazyConnect(t *testing.T) {
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	// No dial yet; first call connects.
	ch, err := NewChannel(ip, port, false)
	require.NoError(t, err)
	defer ch.Close()

	reply, err := ch.Call("Echo", "Any", []byte("late"))
	require.NoError(t, err)
	require.Equal(t, []byte("late"), reply)
}

func TestPoolReuseAndDiscard(t *testing.T) {
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	pool := NewPool()
	defer pool.ClearAll()

	ch, err := pool.Get(ip, port)
	require.NoError(t, err)
	_, err = ch.Call("Echo", "Any", []byte("x"))
	require.NoError(t, err)
	pool.Return(ch, ip, port)
	require.Equal(t, 1, pool.Size(ip, port))

	// The pooled healthy channel is reused.
	ch2, err := pool.Get(ip, port)
	require.NoError(t, err)
	require.Same(t, ch, ch2)

	stats := pool.Stats()
	require.Equal(t, uint64(1), stats.Created)
	require.Equal(t, uint64(1), stats.Reused)

	// Break the channel: Return drops it instead of pooling.
	ch2.Close()
	pool.Return(ch2, ip, port)
	require.Equal(t, 0, pool.Size(ip, port))
	require.Equal(t, uint64(1), pool.Stats().Discarded)
}

func TestPoolRebuildsAfterPeerRestart(t *testing.T) {
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	pool := NewPool()
	defer pool.ClearAll()

	ch, err := pool.Get(ip, port)
	require.NoError(t, err)
	_, err = ch.Call("Echo", "Any", []byte("x"))
	require.NoError(t, err)

	// Kill the peer and run the channel into Disconnected.
	s.Stop()
	for i := 0; i < MaxFailures; i++ {
		ch.Call("Echo", "Any", nil)
	}
	require.True(t, ch.IsDisconnected())
	pool.Return(ch, ip, port)
	require.Equal(t, 0, pool.Size(ip, port))

	// Restart on the same port and get a fresh working channel.
	s2, err := NewServer(s.Addr(), nil)
	if err != nil {
		t.Skipf("could not rebind %s: %v", s.Addr(), err)
	}
	s2.Register("Echo", func(method string, args []byte) ([]byte, error) { return args, nil })
	go s2.Serve()
	defer s2.Stop()

	ch2, err := pool.Get(ip, port)
	require.NoError(t, err)
	defer ch2.Close()
	reply, err := ch2.Call("Echo", "Any", []byte("back"))
	require.NoError(t, err)
	require.Equal(t, []byte("back"), reply)
	require.True(t, ch2.IsHealthy())
}

func TestIdleHeartbeatKeepsChannelHealthy(t *testing.T) {
	// Not a timing test of the 10s production interval; just drive the
	// idle check directly.
	s := startEchoServer(t)
	ip, port, err := SplitEndpoint(s.Addr())
	require.NoError(t, err)

	ch, err := NewChannel(ip, port, true)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Call("Echo", "Any", []byte("traffic"))
	require.NoError(t, err)

	// Pretend the idle window elapsed and fire the check.
	ch.lastActive.Store(time.Now().Add(-2 * HeartbeatInterval).UnixMilli())
	ch.checkIdle()
	require.True(t, ch.IsHealthy())
}
