package transport

import (
	"sync"

	"github.com/wuyongjia/pool"

	"github.com/opd-ai/netcore/limits"
)

// scratchPoolSize is the number of encode buffers kept by the shared pool.
const scratchPoolSize = 16

var (
	sharedScratchOnce sync.Once
	sharedScratch     *scratchPool
)

// scratchPool hands out package-sized encode buffers for direct sends.
type scratchPool struct {
	p *pool.Pool
}

// sharedScratchPool returns the process-wide pool used by every Network.
// The underlying pool starts background goroutines that live until the
// process exits, so it is created once and never per Network.
func sharedScratchPool() *scratchPool {
	sharedScratchOnce.Do(func() {
		sharedScratch = newScratchPool(scratchPoolSize)
	})
	return sharedScratch
}

func newScratchPool(capacity int) *scratchPool {
	if capacity <= 0 {
		capacity = 1
	}
	return &scratchPool{
		p: pool.New(capacity, func() interface{} {
			buf := make([]byte, limits.MaxPackageSize)
			return &buf
		}),
	}
}

// get returns a buffer from the pool, or a fresh one when the pool cannot
// serve the request.
func (s *scratchPool) get() *[]byte {
	item, err := s.p.Get()
	if err == nil {
		if buf, ok := item.(*[]byte); ok {
			return buf
		}
	}
	buf := make([]byte, limits.MaxPackageSize)
	return &buf
}

func (s *scratchPool) put(buf *[]byte) {
	s.p.Put(buf)
}
