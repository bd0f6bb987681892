// Package palloc implements the physical user-pool frame allocator that the
// frame table draws frames from: an index-linked free list over a single
// anonymous-memory region, with no refcounting (no COW or shared anonymous
// pages between processes).
package palloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mh-oh/pintos/defs"
)

// / Frame_t identifies one physical frame. It is stable for the frame's
// / entire lifetime in the pool and is the handle the frame table stores
// / per entry.
type Frame_t int32

// / Pool_t is the user-pool physical frame allocator. Typically one
// / instance is shared process-wide; tests may construct independent pools.
type Pool_t struct {
	mu      sync.Mutex
	mem     []byte
	nexti   []int32 // free-list links, parallel to frame index
	freei   int32   // head of the free list, -1 if none
	freelen int32
	npages  int
}

const nilidx int32 = -1

// / New mmaps npages*PGSIZE bytes of anonymous memory and initializes every
// / frame as free. It panics if the mapping fails; a pool that cannot be
// / created is a fatal condition at this layer.
func New(npages int) *Pool_t {
	if npages <= 0 {
		panic("palloc: npages must be positive")
	}
	mem, err := unix.Mmap(-1, 0, npages*defs.PGSIZE,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic(fmt.Sprintf("palloc: mmap %d pages: %v", npages, err))
	}
	p := &Pool_t{
		mem:    mem,
		nexti:  make([]int32, npages),
		npages: npages,
	}
	for i := 0; i < npages; i++ {
		if i == npages-1 {
			p.nexti[i] = nilidx
		} else {
			p.nexti[i] = int32(i + 1)
		}
	}
	p.freei = 0
	p.freelen = int32(npages)
	return p
}

// / NumFree returns the number of frames not currently allocated.
func (p *Pool_t) NumFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.freelen)
}

// / Capacity returns the total number of frames in the pool.
func (p *Pool_t) Capacity() int {
	return p.npages
}

// / Get returns one free frame, or ok == false if the pool is exhausted
// / (the frame table interprets exhaustion as "must evict", not a panic).
func (p *Pool_t) Get() (Frame_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freei == nilidx {
		return 0, false
	}
	idx := p.freei
	p.freei = p.nexti[idx]
	p.freelen--
	return Frame_t(idx), true
}

// / Free returns f to the pool. It is called only by page-directory
// / teardown, never by the frame table itself: evicting or freeing a frame
// / table entry retires it from the eviction list but leaves the physical
// / page allocated until the owning process's address space is torn down.
func (p *Pool_t) Free(f Frame_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int32(f)
	if idx < 0 || int(idx) >= p.npages {
		panic("palloc: frame out of range")
	}
	p.nexti[idx] = p.freei
	p.freei = idx
	p.freelen++
}

// / Bytes returns the PGSIZE-byte slice backing frame f.
func (p *Pool_t) Bytes(f Frame_t) []byte {
	off := int(f) * defs.PGSIZE
	return p.mem[off : off+defs.PGSIZE]
}

// / Close unmaps the pool's backing memory. A long-lived pool never needs
// / to call this; it exists so tests don't leak mappings.
func (p *Pool_t) Close() error {
	return unix.Munmap(p.mem)
}
