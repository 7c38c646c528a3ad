package netcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcore/clock"
	"github.com/opd-ai/netcore/limits"
	"github.com/opd-ai/netcore/timer"
	"github.com/opd-ai/netcore/transport"
)

// ErrNotRunning is returned by operations on a killed Core.
var ErrNotRunning = errors.New("netcore: not running")

// Options contains configuration options for creating a Core.
type Options struct {
	// PollTimeout bounds how long one Iterate waits for socket readiness.
	PollTimeout time.Duration
	// Interval is the pause Run inserts between iterations.
	Interval time.Duration
	// TimerTick is the resolution of the timer goroutine.
	TimerTick time.Duration
	// ConnectTimeout is applied by Dial; zero disables it.
	ConnectTimeout time.Duration

	SendBufferCapacity int
	RecvBufferCapacity int
	ListenBacklog      int
	NoDelay            bool

	// TimeProvider drives the timer service. Nil means the wall clock.
	TimeProvider clock.TimeProvider
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		PollTimeout:        10 * time.Millisecond,
		Interval:           0,
		TimerTick:          timer.DefaultTick,
		ConnectTimeout:     5 * time.Second,
		SendBufferCapacity: limits.DefaultSendBufferCapacity,
		RecvBufferCapacity: limits.DefaultRecvBufferCapacity,
		ListenBacklog:      transport.DefaultBacklog,
		NoDelay:            true,
	}
}

// Validate checks the options for values the network cannot use.
func (o *Options) Validate() error {
	if o.Interval < 0 {
		return fmt.Errorf("interval must not be negative: %v", o.Interval)
	}
	if o.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative: %v", o.ConnectTimeout)
	}
	if o.ListenBacklog < 0 {
		return fmt.Errorf("listen backlog must not be negative: %d", o.ListenBacklog)
	}
	return o.networkConfig().Validate()
}

func (o *Options) networkConfig() transport.Config {
	return transport.Config{
		PollTimeout:        o.PollTimeout,
		SendBufferCapacity: o.SendBufferCapacity,
		RecvBufferCapacity: o.RecvBufferCapacity,
		NoDelay:            o.NoDelay,
		TimerTick:          o.TimerTick,
		TimeProvider:       o.TimeProvider,
	}
}

// Core hosts a transport.Network and its event loop.
//
// Iterate, Listen, Dial and the timer helpers must be called from one
// goroutine; every callback runs on it.
type Core struct {
	options *Options
	network *transport.Network
	running bool
}

// New creates a Core. A nil options uses NewOptions.
func New(options *Options) (*Core, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	network, err := transport.NewNetwork(options.networkConfig())
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "New",
		"poll_timeout":    options.PollTimeout.String(),
		"connect_timeout": options.ConnectTimeout.String(),
		"send_buffer":     options.SendBufferCapacity,
		"recv_buffer":     options.RecvBufferCapacity,
	}).Info("Core created")

	return &Core{
		options: options,
		network: network,
		running: true,
	}, nil
}

// Options returns the options the Core was created with.
func (c *Core) Options() *Options { return c.options }

// Network returns the underlying network.
func (c *Core) Network() *transport.Network { return c.network }

// Listen starts a listener on addr:port using the configured backlog.
func (c *Core) Listen(addr string, port int, h transport.ListenerHandler) (*transport.TCPListener, error) {
	if !c.running {
		return nil, ErrNotRunning
	}
	ln := c.network.NewListener(h)
	if err := ln.Listen(addr, port, c.options.ListenBacklog); err != nil {
		return nil, err
	}
	return ln, nil
}

// Dial creates a connection and starts connecting it with the configured
// connect timeout. The outcome arrives as transport.ConnEventConnected.
func (c *Core) Dial(addr string, port int, h transport.ConnHandler) (*transport.TCPConnection, error) {
	if !c.running {
		return nil, ErrNotRunning
	}
	conn := c.network.NewConnection(h)
	if err := conn.Connect(addr, port, c.options.ConnectTimeout); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

// StartTimer schedules cb on the Core's timer service.
func (c *Core) StartTimer(interval time.Duration, repeat bool, cb timer.Callback) timer.ID {
	return c.network.Timers().StartTimer(interval, repeat, cb)
}

// StopTimer cancels a timer started with StartTimer.
func (c *Core) StopTimer(id timer.ID) error {
	return c.network.Timers().StopTimer(id)
}

// Iterate performs a single iteration of the event loop.
func (c *Core) Iterate() error {
	if !c.running {
		return ErrNotRunning
	}
	return c.network.Iterate()
}

// IterationInterval returns the recommended pause between iterations.
func (c *Core) IterationInterval() time.Duration {
	return c.options.Interval
}

// Run iterates until ctx is done or a callback calls Kill. It returns
// ctx.Err() in the first case and nil in the second. Iteration errors are
// logged and do not stop the loop.
func (c *Core) Run(ctx context.Context) error {
	for c.running {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.Iterate(); err != nil && c.running {
			logrus.WithFields(logrus.Fields{
				"function": "Core.Run",
				"error":    err.Error(),
			}).Warn("Iteration failed")
		}
		if interval := c.IterationInterval(); interval > 0 {
			time.Sleep(interval)
		}
	}
	return nil
}

// IsRunning checks if the Core is still running.
func (c *Core) IsRunning() bool {
	return c.running
}

// Kill stops the Core, closing every listener and connection.
func (c *Core) Kill() {
	if !c.running {
		return
	}
	c.running = false
	c.network.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Core.Kill",
	}).Info("Core stopped")
}
