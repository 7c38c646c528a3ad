package transport

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/netcore/clock"
	"github.com/opd-ai/netcore/limits"
	"github.com/opd-ai/netcore/socket"
)

type wirePackage struct {
	seq     uint32
	payload []byte
}

func testPackages() ([]wirePackage, []byte) {
	rng := rand.New(rand.NewSource(42))
	var pkgs []wirePackage
	var stream []byte
	for i := 0; i < 25; i++ {
		payload := make([]byte, rng.Intn(300))
		rng.Read(payload)
		p := &NetPackage{Seq: uint32(i + 1), Payload: payload}
		data, _ := p.Serialize()
		stream = append(stream, data...)
		pkgs = append(pkgs, wirePackage{seq: p.Seq, payload: payload})
	}
	return pkgs, stream
}

func splitFixed(stream []byte, size int) [][]byte {
	var chunks [][]byte
	for len(stream) > 0 {
		n := size
		if n > len(stream) {
			n = len(stream)
		}
		chunks = append(chunks, stream[:n])
		stream = stream[n:]
	}
	return chunks
}

func splitRandom(stream []byte, seed int64) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	var chunks [][]byte
	for len(stream) > 0 {
		n := 1 + rng.Intn(100)
		if n > len(stream) {
			n = len(stream)
		}
		chunks = append(chunks, stream[:n])
		stream = stream[n:]
	}
	return chunks
}

// TestRecvIsIndependentOfChunking verifies that the same byte stream yields
// the same packages however the reads are split.
func TestRecvIsIndependentOfChunking(t *testing.T) {
	pkgs, stream := testPackages()

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{"single read", [][]byte{stream}},
		{"one byte", splitFixed(stream, 1)},
		{"three bytes", splitFixed(stream, 3)},
		{"header sized", splitFixed(stream, HeaderSize)},
		{"odd size", splitFixed(stream, 77)},
		{"random 1", splitRandom(stream, 1)},
		{"random 2", splitRandom(stream, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fs, rec := newFakeConnection(t, socket.StateConnected)
			fs.inbound = tt.chunks
			for len(fs.inbound) > 0 {
				require.NoError(t, fs.deliver(socket.EventRecv))
			}

			got := rec.ofKind(ConnEventRecv)
			require.Len(t, got, len(pkgs))
			for i, ev := range got {
				assert.Equal(t, pkgs[i].seq, ev.Seq)
				assert.True(t, bytes.Equal(pkgs[i].payload, ev.Payload), "payload %d", i)
			}
			assert.Equal(t, 0, c.recv.size)
			assert.Equal(t, uint64(len(pkgs)), c.Stats().PacketsReceived)
			assert.Equal(t, uint64(len(stream)), c.Stats().BytesReceived)
		})
	}
}

func TestRecvKeepsTrailingPartialPackage(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	first := encode(t, 1, []byte("complete"))
	second := encode(t, 2, []byte("partial"))

	fs.inbound = [][]byte{append(append([]byte{}, first...), second[:5]...)}
	require.NoError(t, fs.deliver(socket.EventRecv))
	assert.Equal(t, []uint32{1}, rec.seqs(ConnEventRecv))
	assert.Equal(t, 5, c.recv.size)
	assert.Equal(t, second[:5], c.recv.data[:5])

	fs.inbound = [][]byte{second[5:]}
	require.NoError(t, fs.deliver(socket.EventRecv))
	assert.Equal(t, []uint32{1, 2}, rec.seqs(ConnEventRecv))
	assert.Equal(t, 0, c.recv.size)
}

func TestRecvBufferResizeKeepsBufferedBytes(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	data := encode(t, 9, bytes.Repeat([]byte{0xAB}, 1000))

	fs.inbound = [][]byte{data[:600]}
	require.NoError(t, fs.deliver(socket.EventRecv))
	require.NoError(t, c.SetRecvBufferCapacity(limits.MaxPackageSize))
	assert.True(t, c.recv.dirty)

	fs.inbound = [][]byte{data[600:]}
	require.NoError(t, fs.deliver(socket.EventRecv))
	got := rec.ofKind(ConnEventRecv)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(9), got[0].Seq)
	assert.Len(t, got[0].Payload, 1000)
	assert.Len(t, c.recv.data, limits.MaxPackageSize)
}

func TestRecvBadMagicFailsConnection(t *testing.T) {
	_, fs, rec := newFakeConnection(t, socket.StateConnected)
	bad := encode(t, 1, []byte("x"))
	bad[0] = 0xFF

	fs.inbound = [][]byte{bad}
	err := fs.deliver(socket.EventRecv)
	assert.ErrorIs(t, err, ErrBadMagic)
	assert.Empty(t, rec.ofKind(ConnEventRecv))
	require.Len(t, rec.ofKind(ConnEventException), 1)
	assert.ErrorIs(t, rec.ofKind(ConnEventException)[0].Err, ErrBadMagic)
}

func TestRecvBadLengthFailsConnection(t *testing.T) {
	_, fs, _ := newFakeConnection(t, socket.StateConnected)
	bad := encode(t, 1, nil)
	bad[3] = 4

	fs.inbound = [][]byte{bad}
	assert.ErrorIs(t, fs.deliver(socket.EventRecv), ErrBadLength)
}

func TestRecvStopsWhenCallbackDisconnects(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	rec.hook = func(ev ConnEvent) {
		if ev.Kind == ConnEventRecv {
			c.Disconnect()
		}
	}

	stream := append(encode(t, 1, []byte("a")), encode(t, 2, []byte("b"))...)
	fs.inbound = [][]byte{stream}
	require.NoError(t, fs.deliver(socket.EventRecv))

	assert.Equal(t, []uint32{1}, rec.seqs(ConnEventRecv))
	assert.Equal(t, 0, c.recv.size)
	assert.Equal(t, 1, fs.closed)
}

func TestRecvEOFIsReturned(t *testing.T) {
	_, fs, _ := newFakeConnection(t, socket.StateConnected)
	fs.recvErr = io.EOF
	assert.ErrorIs(t, fs.deliver(socket.EventRecv), io.EOF)
}

func TestRecvWouldBlockIsIgnored(t *testing.T) {
	_, fs, rec := newFakeConnection(t, socket.StateConnected)
	assert.NoError(t, fs.deliver(socket.EventRecv))
	assert.Empty(t, rec.events)
}

func TestSendDirect(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)

	require.NoError(t, c.Send(3, []byte("hello"), false))
	assert.Equal(t, encode(t, 3, []byte("hello")), fs.written)
	assert.Equal(t, []uint32{3}, rec.seqs(ConnEventSend))
	assert.Equal(t, []byte("hello"), rec.ofKind(ConnEventSend)[0].Payload)
	assert.Equal(t, 0, c.PendingSendBytes())
	assert.Equal(t, uint64(1), c.Stats().PacketsSent)
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	c, fs, _ := newFakeConnection(t, socket.StateConnected)
	err := c.Send(1, make([]byte, limits.MaxPayloadSize+1), false)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, fs.written)
}

func TestSendWhenDisconnected(t *testing.T) {
	c, _, _ := newFakeConnection(t, socket.StateDisconnected)
	assert.ErrorIs(t, c.Send(1, []byte("x"), true), ErrNotConnected)
}

func TestSendWhileConnecting(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnecting)

	assert.ErrorIs(t, c.Send(1, []byte("dropped"), false), ErrNotConnected)
	assert.Equal(t, 0, c.PendingSendBytes())

	require.NoError(t, c.Send(2, []byte("cached"), true))
	assert.Equal(t, HeaderSize+6, c.PendingSendBytes())
	assert.Empty(t, fs.written)

	fs.state = socket.StateConnected
	require.NoError(t, fs.deliver(socket.EventConnected))
	connected := rec.ofKind(ConnEventConnected)
	require.Len(t, connected, 1)
	assert.True(t, connected[0].OK)
	assert.Equal(t, "127.0.0.1:5327", c.PeerAddress())

	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Equal(t, encode(t, 2, []byte("cached")), fs.written)
	assert.Equal(t, []uint32{2}, rec.seqs(ConnEventSend))
}

// TestSendBackpressure fills the send buffer while the socket is blocked,
// then drains it in uneven steps.
func TestSendBackpressure(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	require.NoError(t, c.SetSendBufferCapacity(64))
	payload := bytes.Repeat([]byte{'p'}, 20)
	fs.blocked = true

	require.NoError(t, c.Send(1, payload, false))
	require.NoError(t, c.Send(2, payload, false))
	assert.Equal(t, 56, c.PendingSendBytes())

	err := c.Send(3, payload, false)
	assert.ErrorIs(t, err, ErrSendBufferFull)
	assert.Equal(t, 56, c.PendingSendBytes())
	assert.Empty(t, rec.ofKind(ConnEventSend))

	fs.blocked = false
	fs.sendLimits = []int{5}
	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Equal(t, 5, c.send.begin)
	assert.Equal(t, 51, c.PendingSendBytes())
	assert.Empty(t, rec.ofKind(ConnEventSend))

	fs.sendLimits = []int{30}
	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Equal(t, []uint32{1}, rec.seqs(ConnEventSend))
	assert.Equal(t, 28, c.send.size)
	assert.Equal(t, 7, c.send.begin)

	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Equal(t, []uint32{1, 2}, rec.seqs(ConnEventSend))
	assert.Equal(t, 0, c.send.size)
	assert.Equal(t, 0, c.send.begin)

	expected := append(encode(t, 1, payload), encode(t, 2, payload)...)
	assert.Equal(t, expected, fs.written)
}

func TestSendNoBufferSpaceIsBuffered(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	fs.sendLimits = []int{0}

	require.NoError(t, c.Send(1, []byte("later"), false))
	assert.Equal(t, HeaderSize+5, c.PendingSendBytes())
	assert.Empty(t, rec.ofKind(ConnEventSend))

	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Equal(t, []uint32{1}, rec.seqs(ConnEventSend))
}

func TestSendPartialDirectWriteBuffersRemainder(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	payload := bytes.Repeat([]byte{'q'}, 40)
	fs.sendLimits = []int{10}

	require.NoError(t, c.Send(5, payload, false))
	assert.Equal(t, 10, c.send.begin)
	assert.Equal(t, HeaderSize+40, c.send.size)
	assert.Empty(t, rec.ofKind(ConnEventSend))

	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Equal(t, []uint32{5}, rec.seqs(ConnEventSend))
	assert.Equal(t, encode(t, 5, payload), fs.written)
}

func TestSendPreservesOrderBehindBufferedData(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	fs.blocked = true
	require.NoError(t, c.Send(1, []byte("old"), false))

	fs.blocked = false
	require.NoError(t, c.Send(2, []byte("new"), false))

	assert.Equal(t, []uint32{1, 2}, rec.seqs(ConnEventSend))
	expected := append(encode(t, 1, []byte("old")), encode(t, 2, []byte("new"))...)
	assert.Equal(t, expected, fs.written)
}

func TestSendFromSendCallback(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	rec.hook = func(ev ConnEvent) {
		if ev.Kind == ConnEventSend && ev.Seq < 3 {
			require.NoError(t, c.Send(ev.Seq+1, []byte("next"), false))
		}
	}

	require.NoError(t, c.Send(1, []byte("first"), false))
	assert.Equal(t, []uint32{1, 2, 3}, rec.seqs(ConnEventSend))
	assert.Len(t, fs.written, 3*HeaderSize+5+4+4)
}

func TestSendCallbackGrowsBufferBeforePartialWrite(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	require.NoError(t, c.SetSendBufferCapacity(64))
	first := bytes.Repeat([]byte{'a'}, 20)
	second := bytes.Repeat([]byte{'b'}, 200)

	fs.blocked = true
	require.NoError(t, c.Send(1, first, false))

	fs.blocked = false
	fs.sendLimits = []int{HeaderSize + 20, 10}
	rec.hook = func(ev ConnEvent) {
		if ev.Kind == ConnEventSend && ev.Seq == 1 {
			require.NoError(t, c.SetSendBufferCapacity(4096))
			require.NoError(t, c.Send(2, second, false))
		}
	}
	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Len(t, c.send.data, 4096)
	assert.Equal(t, 10, c.send.begin)
	assert.Equal(t, HeaderSize+200, c.send.size)

	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Equal(t, []uint32{1, 2}, rec.seqs(ConnEventSend))
	assert.Equal(t, append(encode(t, 1, first), encode(t, 2, second)...), fs.written)
}

func TestSendHardErrorIsReturned(t *testing.T) {
	c, fs, _ := newFakeConnection(t, socket.StateConnected)
	fs.sendErr = errors.New("broken pipe")

	err := c.Send(1, []byte("x"), false)
	require.Error(t, err)
	var netErr *NetError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "send", netErr.Op)
}

func TestBufferCapacity(t *testing.T) {
	c, fs, _ := newFakeConnection(t, socket.StateConnected)

	assert.ErrorIs(t, c.SetRecvBufferCapacity(100), limits.ErrCapacityTooSmall)
	assert.ErrorIs(t, c.SetSendBufferCapacity(4), limits.ErrCapacityTooSmall)
	assert.Equal(t, limits.DefaultSendBufferCapacity, c.SendBufferCapacity())
	assert.Equal(t, limits.DefaultRecvBufferCapacity, c.RecvBufferCapacity())

	fs.blocked = true
	require.NoError(t, c.Send(1, make([]byte, 20), false))
	assert.ErrorIs(t, c.SetSendBufferCapacity(16), limits.ErrCapacityTooSmall)
	require.NoError(t, c.SetSendBufferCapacity(1024))
	assert.Equal(t, 28, c.PendingSendBytes())

	fs.blocked = false
	require.NoError(t, fs.deliver(socket.EventSend))
	assert.Len(t, c.send.data, 1024)
	assert.Equal(t, 0, c.PendingSendBytes())
}

func TestConnectFailureDisconnects(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateDisconnected)
	require.NoError(t, c.Connect("127.0.0.1", 1, 0))
	require.Equal(t, socket.StateConnecting, c.State())

	cause := errors.New("connection refused")
	require.NoError(t, fs.handler.HandleSocketEvent(socket.Event{Kind: socket.EventConnected, OK: false, Err: cause}))

	connected := rec.ofKind(ConnEventConnected)
	require.Len(t, connected, 1)
	assert.False(t, connected[0].OK)
	assert.ErrorIs(t, connected[0].Err, cause)
	assert.Equal(t, socket.StateDisconnected, c.State())
	assert.Equal(t, 1, fs.closed)
}

func TestConnectErrors(t *testing.T) {
	c, fs, _ := newFakeConnection(t, socket.StateDisconnected)

	fs.createErr = errors.New("too many open files")
	err := c.Connect("127.0.0.1", 5327, 0)
	var netErr *NetError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "connect", netErr.Op)
	assert.Equal(t, "127.0.0.1:5327", netErr.Addr)

	fs.createErr = nil
	require.NoError(t, c.Connect("127.0.0.1", 5327, 0))
	assert.ErrorIs(t, c.Connect("127.0.0.1", 5327, 0), ErrAlreadyConnected)

	c.Release()
	assert.ErrorIs(t, c.Connect("127.0.0.1", 5327, 0), ErrNetworkClosed)
	assert.Equal(t, 0, c.network.conns.Len())
}

func TestConnectSuccessCancelsTimeout(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateDisconnected)
	require.NoError(t, c.Connect("127.0.0.1", 5327, time.Second))
	assert.Equal(t, 1, c.network.timers.Len())

	fs.state = socket.StateConnected
	require.NoError(t, fs.deliver(socket.EventConnected))
	assert.Equal(t, 0, c.network.timers.Len())
	require.Len(t, rec.ofKind(ConnEventConnected), 1)
	assert.True(t, rec.ofKind(ConnEventConnected)[0].OK)
}

func TestConnectTimeout(t *testing.T) {
	mock := clock.NewMockTimeProvider(time.Unix(1700000000, 0))
	cfg := DefaultConfig()
	cfg.TimeProvider = mock
	cfg.TimerTick = time.Millisecond
	n := newTestNetwork(t, cfg)

	fs := newFakeSocket(socket.StateDisconnected)
	c := newTCPConnection(n, fs, false)
	n.conns.add(c)
	rec := &connRecorder{}
	c.SetHandler(rec)

	require.NoError(t, c.Connect("10.255.255.1", 5327, 2*time.Second))
	mock.Advance(3 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.ofKind(ConnEventConnected)) == 0 && time.Now().Before(deadline) {
		n.timers.PollEvents()
		time.Sleep(2 * time.Millisecond)
	}

	connected := rec.ofKind(ConnEventConnected)
	require.Len(t, connected, 1)
	assert.False(t, connected[0].OK)
	assert.ErrorIs(t, connected[0].Err, ErrConnectTimeout)
	assert.Equal(t, socket.StateDisconnected, c.State())
	assert.Equal(t, 1, fs.closed)
}

func TestPeerDisconnectResetsBuffers(t *testing.T) {
	c, fs, rec := newFakeConnection(t, socket.StateConnected)
	fs.blocked = true
	require.NoError(t, c.Send(1, []byte("stuck"), false))
	fs.inbound = [][]byte{encode(t, 2, []byte("half"))[:6]}
	require.NoError(t, fs.deliver(socket.EventRecv))

	fs.state = socket.StateDisconnected
	require.NoError(t, fs.handler.HandleSocketEvent(socket.Event{Kind: socket.EventDisconnected, Err: io.EOF}))

	assert.Equal(t, 0, c.PendingSendBytes())
	assert.Equal(t, 0, c.recv.size)
	disconnected := rec.ofKind(ConnEventDisconnected)
	require.Len(t, disconnected, 1)
	assert.ErrorIs(t, disconnected[0].Err, io.EOF)
}

func TestConnEventKindString(t *testing.T) {
	assert.Equal(t, "connected", ConnEventConnected.String())
	assert.Equal(t, "recv", ConnEventRecv.String())
	assert.Equal(t, "send", ConnEventSend.String())
	assert.Equal(t, "exception", ConnEventException.String())
	assert.Equal(t, "disconnected", ConnEventDisconnected.String())
	assert.Equal(t, "unknown", ConnEventKind(0).String())
	assert.Equal(t, "accepted", ListenerEventAccepted.String())
}
