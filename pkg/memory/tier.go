// Package memory places the fixed working buffers of the vision pipeline
// into a preference-ordered list of memory tiers and frees them together.
package memory

import (
	"fmt"
	"sync"
	"unsafe"
)

// Tier is one place buffers can live, such as on-chip SRAM or external
// PSRAM.
type Tier interface {
	// Name identifies the tier in logs and placement reports.
	Name() string

	// Alloc returns a zeroed buffer of exactly size bytes.
	Alloc(size int) ([]byte, error)

	// Free returns a buffer obtained from Alloc.
	Free(buf []byte) error
}

// Pool is a Tier with a fixed byte budget.
type Pool struct {
	name     string
	capacity int
	align    int

	mu     sync.Mutex
	used   int
	live   map[*byte]int // first byte of handed-out slice -> charged bytes
	allocs int64
	frees  int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithAlignment pads every allocation so the returned slice starts on an
// n-byte boundary. The padding is charged against the budget.
func WithAlignment(n int) PoolOption {
	return func(p *Pool) {
		if n > 1 {
			p.align = n
		}
	}
}

// NewPool creates a tier holding at most capacity bytes. A capacity of zero
// yields a tier that refuses every allocation.
func NewPool(name string, capacity int, opts ...PoolOption) *Pool {
	p := &Pool{
		name:     name,
		capacity: capacity,
		align:    1,
		live:     make(map[*byte]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Tier.
func (p *Pool) Name() string {
	return p.name
}

// Alloc implements Tier.
func (p *Pool) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: %s: invalid size %d", p.name, size)
	}
	charged := size + p.align - 1

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.used+charged > p.capacity {
		return nil, fmt.Errorf("%w: %s: need %d, free %d", ErrOutOfMemory, p.name, charged, p.capacity-p.used)
	}

	raw := make([]byte, charged)
	off := 0
	if p.align > 1 {
		if rem := int(uintptr(unsafe.Pointer(&raw[0])) % uintptr(p.align)); rem != 0 {
			off = p.align - rem
		}
	}
	buf := raw[off : off+size : off+size]

	p.used += charged
	p.live[&buf[0]] = charged
	p.allocs++
	return buf, nil
}

// Free implements Tier.
func (p *Pool) Free(buf []byte) error {
	if len(buf) == 0 {
		return ErrNotOwned
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := &buf[0]
	charged, ok := p.live[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOwned, p.name)
	}
	delete(p.live, key)
	p.used -= charged
	p.frees++
	return nil
}

// Outstanding returns allocations minus frees.
func (p *Pool) Outstanding() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs - p.frees
}

// PoolStats is a snapshot of a pool.
type PoolStats struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Used     int    `json:"used"`
	Allocs   int64  `json:"allocs"`
	Frees    int64  `json:"frees"`
}

// Stats returns the current usage.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Name:     p.name,
		Capacity: p.capacity,
		Used:     p.used,
		Allocs:   p.allocs,
		Frees:    p.frees,
	}
}

var _ Tier = (*Pool)(nil)
