package util

import "sync"

// BufferPool hands out byte buffers of one capacity. Buffers are wiped when
// returned since they carry plaintext payload blocks.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of buffers with capacity size.
func NewBufferPool(size int) *BufferPool {
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, 0, size)
		return &b
	}
	return p
}

// Size returns the capacity of the pooled buffers.
func (p *BufferPool) Size() int { return p.size }

// Get returns an empty buffer with capacity Size.
func (p *BufferPool) Get() []byte {
	return (*p.pool.Get().(*[]byte))[:0]
}

// Put wipes b up to its capacity and returns it to the pool. Buffers of any
// other capacity are dropped.
func (p *BufferPool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:cap(b)]
	clear(b)
	b = b[:0]
	p.pool.Put(&b)
}

// BlockPool provides 1 MiB buffers for payload block framing.
var BlockPool = NewBufferPool(MiB)
