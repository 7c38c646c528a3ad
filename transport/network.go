package transport

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcore/clock"
	"github.com/opd-ai/netcore/limits"
	"github.com/opd-ai/netcore/socket"
	"github.com/opd-ai/netcore/timer"
)

// Config holds the settings a Network applies to the objects it creates.
type Config struct {
	// PollTimeout bounds how long one Iterate waits for readiness.
	PollTimeout time.Duration
	// SendBufferCapacity and RecvBufferCapacity size new connections.
	SendBufferCapacity int
	RecvBufferCapacity int
	// NoDelay sets TCP_NODELAY on outgoing connections.
	NoDelay bool
	// TimerTick is the timer service resolution.
	TimerTick time.Duration
	// TimeProvider drives the timer service; nil means the wall clock.
	TimeProvider clock.TimeProvider
}

// DefaultConfig returns the settings used by NewNetwork when none are given.
func DefaultConfig() Config {
	return Config{
		PollTimeout:        10 * time.Millisecond,
		SendBufferCapacity: limits.DefaultSendBufferCapacity,
		RecvBufferCapacity: limits.DefaultRecvBufferCapacity,
		NoDelay:            true,
		TimerTick:          timer.DefaultTick,
	}
}

// Validate checks the buffer capacities.
func (c Config) Validate() error {
	if err := limits.ValidateSendBufferCapacity(c.SendBufferCapacity); err != nil {
		return errors.Wrap(err, "send buffer capacity")
	}
	if err := limits.ValidateRecvBufferCapacity(c.RecvBufferCapacity); err != nil {
		return errors.Wrap(err, "recv buffer capacity")
	}
	if c.PollTimeout < 0 {
		return errors.New("poll timeout must not be negative")
	}
	return nil
}

// Network owns the reactor, the listener and connection sets and the timer
// service, and drives them from a single goroutine.
type Network struct {
	cfg       Config
	reactor   *socket.Reactor
	listeners *ListenerSet
	conns     *ConnectionSet
	timers    *timer.Service
	scratch   *scratchPool
	closed    bool
}

// NewNetwork creates a Network. The timer goroutine starts immediately;
// call Close to stop it.
func NewNetwork(cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "transport: invalid config")
	}
	opts := []timer.Option{timer.WithTimeProvider(cfg.TimeProvider)}
	if cfg.TimerTick > 0 {
		opts = append(opts, timer.WithTick(cfg.TimerTick))
	}
	return &Network{
		cfg:       cfg,
		reactor:   socket.NewReactor(),
		listeners: &ListenerSet{},
		conns:     &ConnectionSet{},
		timers:    timer.NewService(opts...),
		scratch:   sharedScratchPool(),
	}, nil
}

// Config returns the settings the Network was created with.
func (n *Network) Config() Config { return n.cfg }

// Reactor returns the socket reactor.
func (n *Network) Reactor() *socket.Reactor { return n.reactor }

// Timers returns the timer service. Its callbacks run inside Iterate.
func (n *Network) Timers() *timer.Service { return n.timers }

// Listeners returns the set of listening listeners.
func (n *Network) Listeners() *ListenerSet { return n.listeners }

// Connections returns the set of registered connections.
func (n *Network) Connections() *ConnectionSet { return n.conns }

// NewListener creates an idle listener.
func (n *Network) NewListener(h ListenerHandler) *TCPListener {
	return newTCPListener(n, h)
}

// NewConnection creates a disconnected connection registered with the
// Network. It stays registered until Release.
func (n *Network) NewConnection(h ConnHandler) *TCPConnection {
	c := newTCPConnection(n, socket.New(n.reactor), false)
	c.SetHandler(h)
	n.conns.add(c)
	return c
}

// adopt wraps an accepted socket.
func (n *Network) adopt(s *socket.Socket) *TCPConnection {
	c := newTCPConnection(n, s, true)
	n.conns.add(c)
	return c
}

// Iterate runs one pass: accept attempts, reaping of closed accepted
// connections, socket readiness dispatch and timer callbacks.
func (n *Network) Iterate() error {
	if n.closed {
		return ErrNetworkClosed
	}
	n.listeners.Poll()
	n.conns.Poll()
	_, err := n.reactor.PollEvents(n.cfg.PollTimeout)
	n.timers.PollEvents()
	return err
}

// Close stops every listener, releases every connection and stops the
// timer goroutine. It is idempotent.
func (n *Network) Close() {
	if n.closed {
		return
	}
	n.listeners.StopAll()
	n.conns.CloseAll()
	n.reactor.CloseAll()
	n.timers.Close()
	n.closed = true

	logrus.WithFields(logrus.Fields{
		"function": "Network.Close",
	}).Debug("Network closed")
}
