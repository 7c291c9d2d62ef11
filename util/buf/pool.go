// Package buf provides fixed-size byte-slice pools for the packet
// codec, adapted from the teacher's buffer pool (sized for header,
// block and tiny-extent payloads instead of being one general pool).
package buf

import (
	"fmt"
	"sync"

	"github.com/extentfs/extentfs/util/unit"
)

// Pool hands out reusable byte slices for the three fixed sizes the
// wire protocol deals in: packet headers, full blocks, and small
// argument buffers (follower address lists).
type Pool struct {
	headers *sync.Pool
	blocks  *sync.Pool
	args    *sync.Pool
}

// NewPool returns a new buffer pool.
func NewPool() *Pool {
	return &Pool{
		headers: &sync.Pool{New: func() interface{} {
			return make([]byte, unit.PacketHeaderVerSize)
		}},
		blocks: &sync.Pool{New: func() interface{} {
			return make([]byte, unit.BlockSize)
		}},
		args: &sync.Pool{New: func() interface{} {
			return make([]byte, 256)
		}},
	}
}

// Get returns a buffer of at least size bytes from the pool matching
// that size class, or a freshly allocated slice if size doesn't match
// a pooled class. Sizes above unit.BlockSize are refused with an error.
func (p *Pool) Get(size int) ([]byte, error) {
	switch {
	case size <= unit.PacketHeaderVerSize:
		b := p.headers.Get().([]byte)
		return b[:size], nil
	case size == unit.BlockSize:
		return p.blocks.Get().([]byte), nil
	case size <= 256:
		b := p.args.Get().([]byte)
		return b[:size], nil
	case size > unit.BlockSize:
		return nil, fmt.Errorf("buf: requested size %d exceeds block size %d", size, unit.BlockSize)
	default:
		return make([]byte, size), nil
	}
}

// Put returns a buffer to its size class's pool. Buffers that don't
// match a pooled capacity are dropped for the GC to collect.
func (p *Pool) Put(b []byte) {
	switch cap(b) {
	case unit.PacketHeaderVerSize:
		p.headers.Put(b[:cap(b)])
	case unit.BlockSize:
		p.blocks.Put(b[:cap(b)])
	case 256:
		p.args.Put(b[:cap(b)])
	}
}
