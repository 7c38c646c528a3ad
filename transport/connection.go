package transport

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/netcore/limits"
	"github.com/opd-ai/netcore/socket"
	"github.com/opd-ai/netcore/timer"
)

// streamSocket is the part of *socket.Socket a TCPConnection drives.
type streamSocket interface {
	Create(proto socket.Protocol) error
	SetNonBlocking() error
	SetNoDelay(enabled bool) error
	Connect(host string, port int) error
	Send(b []byte) (int, error)
	Recv(b []byte) (int, error)
	Close() error
	State() socket.State
	SetHandler(h socket.Handler)
	PeerAddr() (string, int, error)
}

// Stats counts traffic on a TCPConnection. Packets are counted when they
// are confirmed sent or delivered, bytes when they cross the socket.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
}

// TCPConnection frames NetPackages over a non-blocking stream socket.
//
// All methods must be called from the goroutine that drives the owning
// Network.
type TCPConnection struct {
	network *Network
	sock    streamSocket
	handler ConnHandler

	peerName string
	peerPort int

	send sendBuffer
	recv recvBuffer

	noDelay      bool
	connectTimer timer.ID
	passive      bool
	released     bool

	// epoch changes whenever the buffers are reset, so a receive walk can
	// tell that a callback tore the connection down under it.
	epoch uint64
	stats Stats
}

func newTCPConnection(n *Network, sock streamSocket, passive bool) *TCPConnection {
	c := &TCPConnection{
		network: n,
		sock:    sock,
		send:    newSendBuffer(n.cfg.SendBufferCapacity),
		recv:    newRecvBuffer(n.cfg.RecvBufferCapacity),
		noDelay: n.cfg.NoDelay,
		passive: passive,
	}
	sock.SetHandler(socket.HandlerFunc(c.handleSocketEvent))
	if passive {
		c.peerName, c.peerPort, _ = sock.PeerAddr()
	}
	return c
}

// SetHandler installs the event handler.
func (c *TCPConnection) SetHandler(h ConnHandler) {
	c.handler = h
}

// State returns the state of the underlying socket.
func (c *TCPConnection) State() socket.State {
	return c.sock.State()
}

// IsConnected reports whether packages can be sent right now.
func (c *TCPConnection) IsConnected() bool {
	return c.sock.State() == socket.StateConnected
}

// PeerName returns the remote host recorded at connect or accept time.
func (c *TCPConnection) PeerName() string { return c.peerName }

// PeerPort returns the remote port recorded at connect or accept time.
func (c *TCPConnection) PeerPort() int { return c.peerPort }

// PeerAddress returns PeerName and PeerPort joined as host:port.
func (c *TCPConnection) PeerAddress() string {
	if c.peerName == "" {
		return ""
	}
	return socket.JoinHostPort(c.peerName, c.peerPort)
}

// Passive reports whether the connection was produced by a listener.
func (c *TCPConnection) Passive() bool { return c.passive }

// Stats returns a snapshot of the traffic counters.
func (c *TCPConnection) Stats() Stats { return c.stats }

// SetNoDelay controls TCP_NODELAY for the next Connect. It is applied
// immediately when the socket is open.
func (c *TCPConnection) SetNoDelay(enabled bool) error {
	c.noDelay = enabled
	if c.sock.State() == socket.StateDisconnected {
		return nil
	}
	return c.sock.SetNoDelay(enabled)
}

// SetSendBufferCapacity changes the send buffer size. The storage is
// reallocated on next use; buffered bytes are kept.
func (c *TCPConnection) SetSendBufferCapacity(capacity int) error {
	if err := limits.ValidateSendBufferCapacity(capacity); err != nil {
		return err
	}
	if capacity < c.send.size {
		return fmt.Errorf("%w: %d bytes still buffered", limits.ErrCapacityTooSmall, c.send.size)
	}
	c.send.capacity = capacity
	c.send.dirty = true
	return nil
}

// SetRecvBufferCapacity changes the receive buffer size. The storage is
// reallocated on next use; buffered bytes are kept.
func (c *TCPConnection) SetRecvBufferCapacity(capacity int) error {
	if err := limits.ValidateRecvBufferCapacity(capacity); err != nil {
		return err
	}
	if capacity < c.recv.size {
		return fmt.Errorf("%w: %d bytes still buffered", limits.ErrCapacityTooSmall, c.recv.size)
	}
	c.recv.capacity = capacity
	c.recv.dirty = true
	return nil
}

// SendBufferCapacity returns the configured send buffer size.
func (c *TCPConnection) SendBufferCapacity() int { return c.send.capacity }

// RecvBufferCapacity returns the configured receive buffer size.
func (c *TCPConnection) RecvBufferCapacity() int { return c.recv.capacity }

// PendingSendBytes returns the number of buffered bytes not yet sent.
func (c *TCPConnection) PendingSendBytes() int { return c.send.pending() }

// Connect starts a non-blocking connect. The outcome arrives as a
// ConnEventConnected. A positive timeout aborts the attempt if it is still
// in progress when the timeout expires.
func (c *TCPConnection) Connect(addr string, port int, timeout time.Duration) error {
	if c.released {
		return newNetError("connect", socket.JoinHostPort(addr, port), ErrNetworkClosed)
	}
	if c.sock.State() != socket.StateDisconnected {
		return newNetError("connect", socket.JoinHostPort(addr, port), ErrAlreadyConnected)
	}

	logrus.WithFields(logrus.Fields{
		"function": "TCPConnection.Connect",
		"address":  addr,
		"port":     port,
		"timeout":  timeout,
	}).Debug("Starting connect")

	c.resetBuffers()
	c.peerName = addr
	c.peerPort = port

	if err := c.openSocket(); err != nil {
		c.Disconnect()
		return newNetError("connect", socket.JoinHostPort(addr, port), err)
	}
	if err := c.sock.Connect(addr, port); err != nil {
		c.Disconnect()
		return newNetError("connect", socket.JoinHostPort(addr, port), err)
	}

	if timeout > 0 && c.sock.State() == socket.StateConnecting {
		c.connectTimer = c.network.timers.StartTimer(timeout, false, c.onConnectTimeout)
	}
	return nil
}

func (c *TCPConnection) openSocket() error {
	if err := c.sock.Create(socket.ProtocolTCP); err != nil {
		return err
	}
	if err := c.sock.SetNonBlocking(); err != nil {
		return err
	}
	if c.noDelay {
		if err := c.sock.SetNoDelay(true); err != nil {
			return err
		}
	}
	return nil
}

func (c *TCPConnection) onConnectTimeout(id timer.ID, _ time.Duration) {
	if id != c.connectTimer {
		return
	}
	c.connectTimer = timer.InvalidID
	if c.sock.State() != socket.StateConnecting {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "TCPConnection.onConnectTimeout",
		"peer":     c.PeerAddress(),
	}).Warn("Connect timed out")

	c.Disconnect()
	c.emit(ConnEvent{Kind: ConnEventConnected, OK: false, Err: ErrConnectTimeout})
}

func (c *TCPConnection) stopConnectTimer() {
	if c.connectTimer == timer.InvalidID {
		return
	}
	_ = c.network.timers.StopTimer(c.connectTimer)
	c.connectTimer = timer.InvalidID
}

// Disconnect stops a pending connect timer, closes the socket and empties
// both buffers. No event is delivered.
func (c *TCPConnection) Disconnect() {
	c.stopConnectTimer()
	if err := c.sock.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "TCPConnection.Disconnect",
			"peer":     c.PeerAddress(),
			"error":    err.Error(),
		}).Debug("Socket close failed")
	}
	c.resetBuffers()
}

// Release disconnects the connection and removes it from its Network.
// A released connection cannot connect again.
func (c *TCPConnection) Release() {
	if c.released {
		return
	}
	c.Disconnect()
	c.released = true
	c.network.conns.remove(c)
}

func (c *TCPConnection) resetBuffers() {
	c.send.reset()
	c.recv.reset()
	c.epoch++
}

// Send frames data as one package with sequence number seq.
//
// While connecting, the package is buffered when cacheWhenConnecting is set
// and rejected otherwise. While connected, buffered bytes are flushed first;
// the package is written directly only when nothing older is waiting, and
// whatever the kernel does not take is buffered. ConnEventSend fires once
// the whole package has been handed to the kernel.
func (c *TCPConnection) Send(seq uint32, data []byte, cacheWhenConnecting bool) error {
	if err := limits.ValidatePayload(data); err != nil {
		return newNetError("send", c.PeerAddress(), err)
	}

	switch c.sock.State() {
	case socket.StateConnecting:
		if !cacheWhenConnecting {
			return newNetError("send", c.PeerAddress(), ErrNotConnected)
		}
		return c.bufferPackage(seq, data)
	case socket.StateConnected:
	default:
		return newNetError("send", c.PeerAddress(), ErrNotConnected)
	}

	c.send.ensure()
	if c.send.pending() > 0 {
		if err := c.sendRemainData(); err != nil {
			return newNetError("send", c.PeerAddress(), err)
		}
		if c.send.pending() > 0 {
			return c.bufferPackage(seq, data)
		}
	}
	return c.sendDirect(seq, data)
}

// bufferPackage appends one encoded package to the send buffer.
func (c *TCPConnection) bufferPackage(seq uint32, data []byte) error {
	size := HeaderSize + len(data)
	c.send.ensure()
	if !c.send.fits(size) {
		return newNetError("send", c.PeerAddress(), ErrSendBufferFull)
	}
	encodePackage(c.send.data[c.send.size:], seq, data)
	c.send.size += size
	return nil
}

// sendDirect writes one package straight to the socket. The send buffer
// must be empty.
func (c *TCPConnection) sendDirect(seq uint32, data []byte) error {
	size := HeaderSize + len(data)
	scratch := c.network.scratch.get()
	buf := (*scratch)[:size]
	encodePackage(buf, seq, data)

	n, err := c.sock.Send(buf)
	if err != nil {
		c.network.scratch.put(scratch)
		if socket.IsTemporary(err) {
			return c.bufferPackage(seq, data)
		}
		return newNetError("send", c.PeerAddress(), err)
	}
	c.stats.BytesSent += uint64(n)

	if n < size {
		if !c.send.fits(size) {
			c.network.scratch.put(scratch)
			// Part of the package is on the wire; the stream cannot recover.
			c.Disconnect()
			return newNetError("send", c.PeerAddress(), ErrSendBufferFull)
		}
		c.send.ensure()
		copy(c.send.data[c.send.size:], buf)
		c.send.size += size
		c.send.begin += n
		c.network.scratch.put(scratch)
		return nil
	}

	c.network.scratch.put(scratch)
	c.stats.PacketsSent++
	c.emit(ConnEvent{Kind: ConnEventSend, Seq: seq, Payload: data})
	return nil
}

// sendRemainData writes as much buffered data as the kernel takes, then
// confirms every package that went out in full. Temporary errors are not
// failures.
func (c *TCPConnection) sendRemainData() error {
	if c.send.pending() == 0 {
		return nil
	}
	c.send.ensure()
	n, err := c.sock.Send(c.send.data[c.send.begin:c.send.size])
	if err != nil {
		if socket.IsTemporary(err) {
			return nil
		}
		return err
	}
	if n <= 0 {
		return nil
	}
	c.send.begin += n
	c.stats.BytesSent += uint64(n)

	var confirmed []ConnEvent
	off := 0
	for off+HeaderSize <= c.send.begin {
		h, err := ParseHeader(c.send.data[off:c.send.size])
		if err != nil {
			return err
		}
		end := off + int(h.Length)
		if end > c.send.begin {
			break
		}
		payload := make([]byte, end-off-HeaderSize)
		copy(payload, c.send.data[off+HeaderSize:end])
		confirmed = append(confirmed, ConnEvent{Kind: ConnEventSend, Seq: h.Seq, Payload: payload})
		off = end
	}
	c.send.compact(off)

	for _, ev := range confirmed {
		c.stats.PacketsSent++
		c.emit(ev)
	}
	return nil
}

// onRecv reads once into the tail of the receive buffer and delivers every
// complete package.
func (c *TCPConnection) onRecv() error {
	c.recv.ensure()
	if c.recv.size >= c.recv.capacity {
		return ErrPackageTooLarge
	}
	n, err := c.sock.Recv(c.recv.data[c.recv.size:c.recv.capacity])
	if err != nil {
		if socket.IsTemporary(err) {
			return nil
		}
		return err
	}
	c.recv.size += n
	c.stats.BytesReceived += uint64(n)
	return c.extractPackages()
}

func (c *TCPConnection) extractPackages() error {
	epoch := c.epoch
	off := 0
	for c.recv.size-off >= HeaderSize {
		h, err := ParseHeader(c.recv.data[off:c.recv.size])
		if err != nil {
			return c.protocolError(err)
		}
		length := int(h.Length)
		if length > c.recv.capacity {
			return c.protocolError(fmt.Errorf("%w: %d > %d", ErrPackageTooLarge, length, c.recv.capacity))
		}
		if c.recv.size-off < length {
			break
		}
		payload := c.recv.data[off+HeaderSize : off+length]
		off += length
		c.stats.PacketsReceived++
		c.emit(ConnEvent{Kind: ConnEventRecv, Seq: h.Seq, Payload: payload})
		if c.epoch != epoch {
			return nil
		}
	}
	c.recv.consume(off)
	return nil
}

func (c *TCPConnection) protocolError(err error) error {
	logrus.WithFields(logrus.Fields{
		"function": "TCPConnection.extractPackages",
		"peer":     c.PeerAddress(),
		"error":    err.Error(),
	}).Warn("Dropping connection on malformed stream")
	c.emit(ConnEvent{Kind: ConnEventException, Err: err})
	return err
}

func (c *TCPConnection) handleSocketEvent(ev socket.Event) error {
	switch ev.Kind {
	case socket.EventConnected:
		c.stopConnectTimer()
		if ev.OK {
			if name, port, err := c.sock.PeerAddr(); err == nil {
				c.peerName, c.peerPort = name, port
			}
		} else {
			c.Disconnect()
		}
		c.emit(ConnEvent{Kind: ConnEventConnected, OK: ev.OK, Err: ev.Err})
	case socket.EventRecv:
		return c.onRecv()
	case socket.EventSend:
		return c.sendRemainData()
	case socket.EventException:
		c.emit(ConnEvent{Kind: ConnEventException, Err: ev.Err})
	case socket.EventDisconnected:
		c.stopConnectTimer()
		c.resetBuffers()
		logrus.WithFields(logrus.Fields{
			"function": "TCPConnection.handleSocketEvent",
			"peer":     c.PeerAddress(),
		}).Debug("Connection closed")
		c.emit(ConnEvent{Kind: ConnEventDisconnected, Err: ev.Err})
	}
	return nil
}

func (c *TCPConnection) emit(ev ConnEvent) {
	if c.handler == nil {
		return
	}
	ev.Conn = c
	c.handler.HandleConnEvent(ev)
}
