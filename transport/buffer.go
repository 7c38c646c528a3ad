package transport

// sendBuffer holds packages the kernel has not taken yet. Bytes in
// [0, begin) are already sent, [begin, size) are waiting.
type sendBuffer struct {
	data     []byte
	capacity int
	size     int
	begin    int
	dirty    bool
}

// recvBuffer holds bytes that do not form a complete package yet.
type recvBuffer struct {
	data     []byte
	capacity int
	size     int
	dirty    bool
}

func newSendBuffer(capacity int) sendBuffer {
	return sendBuffer{capacity: capacity, dirty: true}
}

func newRecvBuffer(capacity int) recvBuffer {
	return recvBuffer{capacity: capacity, dirty: true}
}

// ensure (re)allocates the storage when dirty, keeping buffered bytes.
func (b *sendBuffer) ensure() {
	if !b.dirty {
		return
	}
	data := make([]byte, b.capacity)
	copy(data, b.data[:b.size])
	b.data = data
	b.dirty = false
}

func (b *sendBuffer) pending() int {
	return b.size - b.begin
}

func (b *sendBuffer) fits(n int) bool {
	return b.size+n <= b.capacity
}

// compact drops the first n confirmed bytes, or empties the buffer once
// everything is sent.
func (b *sendBuffer) compact(n int) {
	if b.begin == b.size {
		b.size = 0
		b.begin = 0
		return
	}
	if n == 0 {
		return
	}
	copy(b.data, b.data[n:b.size])
	b.size -= n
	b.begin -= n
}

func (b *sendBuffer) reset() {
	b.size = 0
	b.begin = 0
}

func (b *recvBuffer) ensure() {
	if !b.dirty {
		return
	}
	data := make([]byte, b.capacity)
	copy(data, b.data[:b.size])
	b.data = data
	b.dirty = false
}

// consume drops the first n bytes.
func (b *recvBuffer) consume(n int) {
	if n == 0 {
		return
	}
	copy(b.data, b.data[n:b.size])
	b.size -= n
}

func (b *recvBuffer) reset() {
	b.size = 0
}
