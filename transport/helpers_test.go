package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/netcore/socket"
)

// fakeSocket is a scripted streamSocket. Each Recv hands out at most one
// inbound chunk and each Send takes at most the next send limit.
type fakeSocket struct {
	state   socket.State
	handler socket.Handler

	createErr  error
	connectErr error
	created    int
	closed     int

	written    []byte
	blocked    bool
	sendLimits []int
	sendErr    error

	inbound [][]byte
	recvErr error

	peerName string
	peerPort int
}

func newFakeSocket(state socket.State) *fakeSocket {
	return &fakeSocket{state: state, peerName: "127.0.0.1", peerPort: 5327}
}

func (f *fakeSocket) Create(socket.Protocol) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.state != socket.StateDisconnected {
		return socket.ErrInvalidState
	}
	f.created++
	return nil
}

func (f *fakeSocket) SetNonBlocking() error { return nil }

func (f *fakeSocket) SetNoDelay(bool) error { return nil }

func (f *fakeSocket) State() socket.State { return f.state }

func (f *fakeSocket) SetHandler(h socket.Handler) { f.handler = h }

func (f *fakeSocket) Connect(host string, port int) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = socket.StateConnecting
	return nil
}

func (f *fakeSocket) Send(b []byte) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	if f.blocked {
		return 0, socket.ErrWouldBlock
	}
	n := len(b)
	if len(f.sendLimits) > 0 {
		if f.sendLimits[0] < n {
			n = f.sendLimits[0]
		}
		f.sendLimits = f.sendLimits[1:]
		if n == 0 {
			return 0, socket.ErrNoBufferSpace
		}
	}
	f.written = append(f.written, b[:n]...)
	return n, nil
}

func (f *fakeSocket) Recv(b []byte) (int, error) {
	if len(f.inbound) == 0 {
		if f.recvErr != nil {
			return 0, f.recvErr
		}
		return 0, socket.ErrWouldBlock
	}
	chunk := f.inbound[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		f.inbound[0] = chunk[n:]
	} else {
		f.inbound = f.inbound[1:]
	}
	return n, nil
}

func (f *fakeSocket) Close() error {
	f.closed++
	f.state = socket.StateDisconnected
	return nil
}

func (f *fakeSocket) PeerAddr() (string, int, error) {
	if f.state == socket.StateDisconnected {
		return "", 0, errors.New("not connected")
	}
	return f.peerName, f.peerPort, nil
}

// deliver fires socket events at the connection the way the reactor would.
func (f *fakeSocket) deliver(kind socket.EventKind) error {
	return f.handler.HandleSocketEvent(socket.Event{Kind: kind, OK: true})
}

// connRecorder keeps a copy of every connection event.
type connRecorder struct {
	events []ConnEvent
	hook   func(ev ConnEvent)
}

func (r *connRecorder) HandleConnEvent(ev ConnEvent) {
	if ev.Payload != nil {
		ev.Payload = append([]byte(nil), ev.Payload...)
	}
	r.events = append(r.events, ev)
	if r.hook != nil {
		r.hook(ev)
	}
}

func (r *connRecorder) ofKind(kind ConnEventKind) []ConnEvent {
	var out []ConnEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *connRecorder) seqs(kind ConnEventKind) []uint32 {
	var out []uint32
	for _, ev := range r.ofKind(kind) {
		out = append(out, ev.Seq)
	}
	return out
}

func newTestNetwork(t *testing.T, cfg Config) *Network {
	t.Helper()
	n, err := NewNetwork(cfg)
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

// newFakeConnection wires a fake socket into a registered connection.
func newFakeConnection(t *testing.T, state socket.State) (*TCPConnection, *fakeSocket, *connRecorder) {
	t.Helper()
	n := newTestNetwork(t, DefaultConfig())
	fs := newFakeSocket(state)
	c := newTCPConnection(n, fs, false)
	n.conns.add(c)
	rec := &connRecorder{}
	c.SetHandler(rec)
	return c, fs, rec
}

func encode(t *testing.T, seq uint32, payload []byte) []byte {
	t.Helper()
	data, err := (&NetPackage{Seq: seq, Payload: payload}).Serialize()
	require.NoError(t, err)
	return data
}
