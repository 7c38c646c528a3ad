package transport

import (
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/netcore/limits"
	"github.com/opd-ai/netcore/socket"
)

const loopbackTimeout = 5 * time.Second

func loopbackConfig() Config {
	cfg := DefaultConfig()
	cfg.PollTimeout = 5 * time.Millisecond
	return cfg
}

// iterateUntil drives the network until done returns true or the loopback
// timeout expires.
func iterateUntil(t *testing.T, n *Network, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(loopbackTimeout)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for network condition")
		}
		require.NoError(t, n.Iterate())
	}
}

type echoServer struct {
	accepted []*TCPConnection
	closed   int
	events   []ListenerEventKind
}

func (s *echoServer) HandleListenerEvent(ev ListenerEvent) {
	s.events = append(s.events, ev.Kind)
	if ev.Kind != ListenerEventAccepted {
		return
	}
	s.accepted = append(s.accepted, ev.Conn)
	ev.Conn.SetHandler(ConnHandlerFunc(func(ce ConnEvent) {
		switch ce.Kind {
		case ConnEventRecv:
			_ = ce.Conn.Send(ce.Seq, ce.Payload, false)
		case ConnEventDisconnected:
			s.closed++
		}
	}))
}

func startEchoServer(t *testing.T, n *Network) (*TCPListener, *echoServer, int) {
	t.Helper()
	srv := &echoServer{}
	ln := n.NewListener(srv)
	require.NoError(t, ln.Listen("127.0.0.1", 0, 0))
	_, port := ln.Addr()
	require.NotZero(t, port)
	return ln, srv, port
}

func TestLoopbackEcho(t *testing.T) {
	n := newTestNetwork(t, loopbackConfig())
	_, srv, port := startEchoServer(t, n)

	rec := &connRecorder{}
	client := n.NewConnection(rec)
	require.NoError(t, client.Connect("127.0.0.1", port, loopbackTimeout))

	const count = 50
	for i := 0; i < count; i++ {
		payload := []byte(fmt.Sprintf("message %d", i))
		require.NoError(t, client.Send(uint32(i+1), payload, true))
	}

	iterateUntil(t, n, func() bool { return len(rec.ofKind(ConnEventRecv)) == count })

	connected := rec.ofKind(ConnEventConnected)
	require.Len(t, connected, 1)
	assert.True(t, connected[0].OK)
	assert.Equal(t, "127.0.0.1", client.PeerName())
	assert.Equal(t, port, client.PeerPort())

	for i, ev := range rec.ofKind(ConnEventRecv) {
		assert.Equal(t, uint32(i+1), ev.Seq)
		assert.Equal(t, fmt.Sprintf("message %d", i), string(ev.Payload))
	}
	assert.Equal(t, count, len(rec.ofKind(ConnEventSend)))
	require.Len(t, srv.accepted, 1)
	assert.True(t, srv.accepted[0].Passive())
	assert.Equal(t, "127.0.0.1", srv.accepted[0].PeerName())
}

func TestLoopbackLargePackages(t *testing.T) {
	n := newTestNetwork(t, loopbackConfig())
	_, _, port := startEchoServer(t, n)

	rec := &connRecorder{}
	client := n.NewConnection(rec)
	require.NoError(t, client.Connect("127.0.0.1", port, loopbackTimeout))
	iterateUntil(t, n, client.IsConnected)

	payload := make([]byte, limits.MaxPayloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	const count = 3
	for i := 0; i < count; i++ {
		require.NoError(t, client.Send(uint32(i), payload, false))
	}

	iterateUntil(t, n, func() bool { return len(rec.ofKind(ConnEventRecv)) == count })
	for _, ev := range rec.ofKind(ConnEventRecv) {
		assert.Equal(t, payload, ev.Payload)
	}
}

func TestLoopbackPeerCloseReapsAcceptedConnection(t *testing.T) {
	n := newTestNetwork(t, loopbackConfig())
	_, srv, port := startEchoServer(t, n)

	client := n.NewConnection(&connRecorder{})
	require.NoError(t, client.Connect("127.0.0.1", port, loopbackTimeout))
	iterateUntil(t, n, func() bool { return client.IsConnected() && len(srv.accepted) == 1 })
	assert.Equal(t, 2, n.Connections().Len())

	client.Disconnect()
	iterateUntil(t, n, func() bool { return srv.closed == 1 && n.Connections().Len() == 1 })
	assert.Equal(t, socket.StateDisconnected, srv.accepted[0].State())

	// an active connection can be reused after a disconnect
	require.NoError(t, client.Connect("127.0.0.1", port, loopbackTimeout))
	iterateUntil(t, n, func() bool { return client.IsConnected() && len(srv.accepted) == 2 })
}

func TestLoopbackConnectRefused(t *testing.T) {
	n := newTestNetwork(t, loopbackConfig())
	ln, _, port := startEchoServer(t, n)
	ln.Stop()

	rec := &connRecorder{}
	client := n.NewConnection(rec)
	if err := client.Connect("127.0.0.1", port, loopbackTimeout); err != nil {
		// loopback may refuse synchronously
		assert.Equal(t, socket.StateDisconnected, client.State())
		assert.Equal(t, 0, n.Timers().Len())
		return
	}
	iterateUntil(t, n, func() bool { return len(rec.ofKind(ConnEventConnected)) == 1 })

	ev := rec.ofKind(ConnEventConnected)[0]
	assert.False(t, ev.OK)
	assert.Error(t, ev.Err)
	assert.Equal(t, socket.StateDisconnected, client.State())
	assert.Equal(t, 0, n.Timers().Len())
}

func TestLoopbackAcceptedConnectionReportsConnected(t *testing.T) {
	n := newTestNetwork(t, loopbackConfig())
	var accepted []ListenerEventKind
	rec := &connRecorder{}
	ln := n.NewListener(ListenerHandlerFunc(func(ev ListenerEvent) {
		accepted = append(accepted, ev.Kind)
		if ev.Kind == ListenerEventAccepted {
			require.Empty(t, rec.events)
			ev.Conn.SetHandler(rec)
		}
	}))
	require.NoError(t, ln.Listen("127.0.0.1", 0, 0))
	_, port := ln.Addr()

	client := n.NewConnection(nil)
	require.NoError(t, client.Connect("127.0.0.1", port, loopbackTimeout))
	iterateUntil(t, n, func() bool { return len(rec.ofKind(ConnEventConnected)) == 1 })

	ev := rec.ofKind(ConnEventConnected)[0]
	assert.True(t, ev.OK)
	assert.NoError(t, ev.Err)
	assert.True(t, ev.Conn.Passive())
	assert.Equal(t, []ListenerEventKind{ListenerEventStarted, ListenerEventAccepted}, accepted)
}

func TestNetworksShareScratchPool(t *testing.T) {
	first, err := NewNetwork(loopbackConfig())
	require.NoError(t, err)
	first.Close()

	base := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		n, err := NewNetwork(loopbackConfig())
		require.NoError(t, err)
		assert.Same(t, first.scratch, n.scratch)
		n.Close()
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base+2
	}, time.Second, 10*time.Millisecond)
}

func TestListenerLifecycle(t *testing.T) {
	n := newTestNetwork(t, loopbackConfig())
	ln, srv, port := startEchoServer(t, n)

	assert.True(t, ln.IsListening())
	assert.Equal(t, 1, n.Listeners().Len())

	require.NoError(t, ln.Listen("127.0.0.1", 0, 0), "listening twice is a no-op")
	_, again := ln.Addr()
	assert.Equal(t, port, again)
	assert.Equal(t, []ListenerEventKind{ListenerEventStarted}, srv.events)

	ln.Stop()
	ln.Stop()
	assert.False(t, ln.IsListening())
	assert.Equal(t, 0, n.Listeners().Len())
	assert.Equal(t, []ListenerEventKind{ListenerEventStarted, ListenerEventStopped}, srv.events)

	require.NoError(t, ln.Listen("127.0.0.1", 0, 0))
	assert.True(t, ln.IsListening())
}

func TestListenOnBusyPortFails(t *testing.T) {
	n := newTestNetwork(t, loopbackConfig())
	_, _, port := startEchoServer(t, n)

	other := n.NewListener(nil)
	err := other.Listen("127.0.0.1", port, 0)
	var netErr *NetError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "listen", netErr.Op)
	assert.False(t, other.IsListening())
}

func TestNetworkClose(t *testing.T) {
	n, err := NewNetwork(loopbackConfig())
	require.NoError(t, err)
	ln, _, port := startEchoServer(t, n)

	client := n.NewConnection(nil)
	require.NoError(t, client.Connect("127.0.0.1", port, 0))

	n.Close()
	n.Close()
	assert.False(t, ln.IsListening())
	assert.Equal(t, 0, n.Connections().Len())
	assert.Equal(t, 0, n.Reactor().Len())
	assert.ErrorIs(t, n.Iterate(), ErrNetworkClosed)
	assert.ErrorIs(t, n.NewListener(nil).Listen("127.0.0.1", 0, 0), ErrNetworkClosed)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"small send buffer", func(c *Config) { c.SendBufferCapacity = 2 }, true},
		{"small recv buffer", func(c *Config) { c.RecvBufferCapacity = 1024 }, true},
		{"negative poll timeout", func(c *Config) { c.PollTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := NewNetwork(Config{})
	assert.Error(t, err)
}
