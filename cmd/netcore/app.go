package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcore"
	"github.com/opd-ai/netcore/timer"
	"github.com/opd-ai/netcore/transport"
)

// errPeerClosed reports a server that went away before every echo arrived.
var errPeerClosed = errors.New("server closed the connection")

// errEchoMismatch reports an echo whose payload differs from what was sent.
var errEchoMismatch = errors.New("echo payload mismatch")

// echoServer sends every package it receives back with the same seq.
type echoServer struct {
	listener *transport.TCPListener
	accepted int
	packets  uint64
}

func startEchoServer(core *netcore.Core, address string, port int) (*echoServer, error) {
	s := &echoServer{}
	ln, err := core.Listen(address, port, transport.ListenerHandlerFunc(s.handleListenerEvent))
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return s, nil
}

func (s *echoServer) handleListenerEvent(ev transport.ListenerEvent) {
	if ev.Kind != transport.ListenerEventAccepted {
		return
	}
	s.accepted++
	ev.Conn.SetHandler(transport.ConnHandlerFunc(s.handleConnEvent))

	logrus.WithFields(logrus.Fields{
		"function": "echoServer.handleListenerEvent",
		"peer":     ev.Conn.PeerAddress(),
	}).Info("Client connected")
}

func (s *echoServer) handleConnEvent(ev transport.ConnEvent) {
	switch ev.Kind {
	case transport.ConnEventRecv:
		s.packets++
		if err := ev.Conn.Send(ev.Seq, ev.Payload, false); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "echoServer.handleConnEvent",
				"peer":     ev.Conn.PeerAddress(),
				"seq":      ev.Seq,
				"error":    err.Error(),
			}).Warn("Echo failed")
		}
	case transport.ConnEventDisconnected:
		logrus.WithFields(logrus.Fields{
			"function": "echoServer.handleConnEvent",
			"peer":     ev.Conn.PeerAddress(),
		}).Info("Client disconnected")
	}
}

// echoClient sends count packages on a repeating timer and waits for every
// echo.
type echoClient struct {
	core        *netcore.Core
	conn        *transport.TCPConnection
	count       int
	interval    time.Duration
	payloadSize int

	tick     timer.ID
	nextSeq  uint32
	sentAt   map[uint32]time.Time
	echoed   int
	totalRTT time.Duration
	started  time.Time

	done bool
	err  error
}

func startEchoClient(core *netcore.Core, config *CLIConfig, port int) (*echoClient, error) {
	c := &echoClient{
		core:        core,
		count:       config.count,
		interval:    config.interval,
		payloadSize: config.payloadSize,
		sentAt:      make(map[uint32]time.Time),
		started:     time.Now(),
	}
	conn, err := core.Dial(config.address, port, c)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// payloadFor builds a recognisable payload for seq.
func payloadFor(seq uint32, size int) []byte {
	stamp := []byte(fmt.Sprintf("netcore-%08d|", seq))
	if size <= 0 {
		return []byte{}
	}
	return bytes.Repeat(stamp, size/len(stamp)+1)[:size]
}

func (c *echoClient) HandleConnEvent(ev transport.ConnEvent) {
	switch ev.Kind {
	case transport.ConnEventConnected:
		if !ev.OK {
			c.finish(fmt.Errorf("connect: %w", ev.Err))
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "echoClient.HandleConnEvent",
			"peer":     ev.Conn.PeerAddress(),
		}).Info("Connected")
		c.tick = c.core.StartTimer(c.interval, true, c.onTick)
	case transport.ConnEventRecv:
		c.onEcho(ev.Seq, ev.Payload)
	case transport.ConnEventException:
		logrus.WithFields(logrus.Fields{
			"function": "echoClient.HandleConnEvent",
			"error":    errString(ev.Err),
		}).Warn("Connection exception")
	case transport.ConnEventDisconnected:
		if !c.done {
			c.finish(errPeerClosed)
		}
	}
}

func (c *echoClient) onTick(timer.ID, time.Duration) {
	if c.done {
		return
	}
	if int(c.nextSeq) >= c.count {
		c.stopTick()
		return
	}
	seq := c.nextSeq
	if err := c.conn.Send(seq, payloadFor(seq, c.payloadSize), false); err != nil {
		if errors.Is(err, transport.ErrSendBufferFull) {
			// retry the same seq on the next tick
			return
		}
		c.finish(fmt.Errorf("send %d: %w", seq, err))
		return
	}
	c.sentAt[seq] = time.Now()
	c.nextSeq++
}

func (c *echoClient) onEcho(seq uint32, payload []byte) {
	sent, ok := c.sentAt[seq]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "echoClient.onEcho",
			"seq":      seq,
		}).Warn("Unexpected echo")
		return
	}
	if !bytes.Equal(payload, payloadFor(seq, c.payloadSize)) {
		c.finish(fmt.Errorf("%w for seq %d", errEchoMismatch, seq))
		return
	}
	delete(c.sentAt, seq)
	c.echoed++
	c.totalRTT += time.Since(sent)
	if c.echoed == c.count {
		c.finish(nil)
	}
}

func (c *echoClient) stopTick() {
	if c.tick == timer.InvalidID {
		return
	}
	_ = c.core.StopTimer(c.tick)
	c.tick = timer.InvalidID
}

func (c *echoClient) finish(err error) {
	if c.done {
		return
	}
	c.done = true
	c.err = err
	c.stopTick()
	if c.conn != nil {
		c.conn.Disconnect()
	}
}

// summary describes the client run.
func (c *echoClient) summary() string {
	avg := time.Duration(0)
	if c.echoed > 0 {
		avg = c.totalRTT / time.Duration(c.echoed)
	}
	stats := transport.Stats{}
	if c.conn != nil {
		stats = c.conn.Stats()
	}
	return fmt.Sprintf("echoed %d/%d packets in %v (avg rtt %v, %d bytes out, %d bytes in)",
		c.echoed, c.count, time.Since(c.started).Round(time.Millisecond), avg,
		stats.BytesSent, stats.BytesReceived)
}

// run executes the configured mode and returns a printable summary.
func run(ctx context.Context, config *CLIConfig) (*string, error) {
	core, err := netcore.New(createOptions(config))
	if err != nil {
		return nil, err
	}
	defer core.Kill()

	switch config.mode {
	case modeServer:
		return nil, runServer(ctx, core, config)
	case modeClient:
		return runClient(ctx, core, config, int(config.port))
	case modeDemo:
		srv, err := startEchoServer(core, config.address, int(config.port))
		if err != nil {
			return nil, err
		}
		_, port := srv.listener.Addr()
		return runClient(ctx, core, config, port)
	default:
		return nil, fmt.Errorf("unknown mode %q", config.mode)
	}
}

func runServer(ctx context.Context, core *netcore.Core, config *CLIConfig) error {
	srv, err := startEchoServer(core, config.address, int(config.port))
	if err != nil {
		return err
	}
	host, port := srv.listener.Addr()
	logrus.WithFields(logrus.Fields{
		"function": "runServer",
		"address":  host,
		"port":     port,
	}).Info("Echo server running")

	err = core.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "runServer",
		"accepted": srv.accepted,
		"packets":  srv.packets,
	}).Info("Echo server stopped")
	return nil
}

func runClient(ctx context.Context, core *netcore.Core, config *CLIConfig, port int) (*string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.overallTimeout)
	defer cancel()

	client, err := startEchoClient(core, config, port)
	if err != nil {
		return nil, err
	}
	for !client.done {
		select {
		case <-ctx.Done():
			client.finish(ctx.Err())
		default:
			if err := core.Iterate(); err != nil {
				client.finish(err)
			}
		}
	}
	summary := client.summary()
	return &summary, client.err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
