// Package frame implements the global frame table: ownership of the
// physical user-pool frames, second-chance/clock eviction, and the
// pin-flag protocol that makes eviction safe under concurrent page faults
// and teardown.
package frame

import (
	"container/list"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mh-oh/pintos/palloc"
	"github.com/mh-oh/pintos/stats"
	"github.com/mh-oh/pintos/swap"
)

// / Page_i is the supplemental-page-table side of the doubly-linked
// / frame-table-entry/page relation. package spt's Entry type implements
// / this; frame never imports spt, keeping the dependency leaf-first.
type Page_i interface {
	Upage() uintptr
	WasAccessed() bool
	HardwareDirty() bool
	ClearMapping()
	MarkDirty()
	IsDirty() bool
	SetSwapSlot(slot swap.Slot_t)
	SetFrame(f *FTE)
	ClearFrame()
}

// / FTE is one frame table entry: a physical frame plus the descriptor
// / currently assigned to it.
type FTE struct {
	frame  palloc.Frame_t
	page   Page_i
	pinned int32
}

// / TryPin atomically acquires fte's pin. It returns false if another
// / caller already holds it. Leaf operation: never held across I/O.
func TryPin(fte *FTE) bool {
	return atomic.CompareAndSwapInt32(&fte.pinned, 0, 1)
}

// / PinBlocking spins until the pin is acquired. Used by supplemental page
// / table teardown to wait out an in-progress eviction.
func PinBlocking(fte *FTE) {
	for !TryPin(fte) {
		runtime.Gosched()
	}
}

// / Unpin releases fte's pin.
func Unpin(fte *FTE) {
	atomic.StoreInt32(&fte.pinned, 0)
}

// / Table_t is the global frame table: typically one instance per kernel,
// / constructed explicitly so tests can run independent instances.
type Table_t struct {
	tableMu sync.Mutex
	pool    *palloc.Pool_t
	swapper *swap.Allocator_t
	list    *list.List
	elemOf  map[*FTE]*list.Element
	hand    *list.Element

	Stats Stats_t
}

// / Stats_t is the frame table's debug instrumentation, dumped with
// / stats.Stats2String when stats.Enabled is true.
type Stats_t struct {
	Allocs      stats.Counter_t
	Evictions   stats.Counter_t
	EvictCycles stats.Cycles_t
}

// / Init constructs an empty frame table drawing frames from pool and
// / spilling to swapper on eviction.
func Init(pool *palloc.Pool_t, swapper *swap.Allocator_t) *Table_t {
	return &Table_t{
		pool:    pool,
		swapper: swapper,
		list:    list.New(),
		elemOf:  make(map[*FTE]*list.Element),
	}
}

// / FrameID returns the physical frame backing fte, for callers that must
// / install a hardware mapping to it.
func (t *Table_t) FrameID(fte *FTE) palloc.Frame_t {
	return fte.frame
}

// / Bytes returns the PGSIZE-byte slice backing fte's physical frame.
func (t *Table_t) Bytes(fte *FTE) []byte {
	return t.pool.Bytes(fte.frame)
}

// / BytesByID returns the PGSIZE-byte slice backing a bare frame id, for
// / callers (simulated user-memory accesses) that only hold what the
// / hardware page directory stores: a frame id, not an FTE.
func (t *Table_t) BytesByID(id palloc.Frame_t) []byte {
	return t.pool.Bytes(id)
}

// / Alloc returns a frame bound to spte, evicting a victim if the physical
// / pool is exhausted. The returned FTE is pinned.
func (t *Table_t) Alloc(spte Page_i) *FTE {
	t.tableMu.Lock()
	defer t.tableMu.Unlock()
	t.Stats.Allocs.Inc()

	if f, ok := t.pool.Get(); ok {
		fte := &FTE{frame: f, page: spte, pinned: 1}
		spte.SetFrame(fte)
		elem := t.list.PushBack(fte)
		t.elemOf[fte] = elem
		return fte
	}

	start := time.Now()
	victim := t.victimLocked()
	t.evictLocked(victim, spte)
	t.Stats.Evictions.Inc()
	t.Stats.EvictCycles.Since(start)
	return victim
}

// / Free removes fte from the frame list. The caller must already hold
// / fte's pin. The physical backing page is not released; page-directory
// / teardown does that.
func (t *Table_t) Free(fte *FTE) {
	t.tableMu.Lock()
	defer t.tableMu.Unlock()
	if elem, ok := t.elemOf[fte]; ok {
		t.list.Remove(elem)
		delete(t.elemOf, fte)
		if t.hand == elem {
			t.hand = nil
		}
	}
}

// victimLocked implements the second-chance clock sweep. Precondition:
// tableMu held. It returns a pinned FTE already unlinked from the list.
func (t *Table_t) victimLocked() *FTE {
	for {
		if t.list.Len() == 0 {
			// The pool is exhausted but nothing is left to evict: every
			// frame has already been orphaned by teardown and is waiting
			// on a page-directory destruction that will never come before
			// this call returns. Physical pool fragmentation is fatal.
			panic("frame: pool exhausted with no evictable frames")
		}
		start := t.hand
		if start == nil {
			start = t.list.Front()
		}
		e := start
		for {
			fte := e.Value.(*FTE)
			next := e.Next()
			if next == nil {
				next = t.list.Front()
			}
			if TryPin(fte) {
				if !fte.page.WasAccessed() {
					t.list.Remove(e)
					delete(t.elemOf, fte)
					if next == e {
						next = nil
					}
					t.hand = next
					return fte
				}
				Unpin(fte)
			}
			e = next
			if e == start {
				break
			}
		}
		// Every frame was either pinned by someone else or recently
		// accessed; yield and sweep again. Progress is bounded by the
		// frame count.
		t.tableMu.Unlock()
		runtime.Gosched()
		t.tableMu.Lock()
	}
}

// evictLocked reassigns victim's physical frame from its current owner to
// dst, spilling the current owner to swap first if it is dirty.
// Precondition: tableMu held, victim is pinned and unlinked from the list.
func (t *Table_t) evictLocked(victim *FTE, dst Page_i) {
	src := victim.page

	// The hardware dirty bit is read before the mapping is cleared: the
	// page directory drops an entry's bits together with the entry.
	if src.HardwareDirty() {
		src.MarkDirty()
	}
	src.ClearMapping()
	if src.IsDirty() {
		slot := t.swapper.Out(t.pool.Bytes(victim.frame))
		src.SetSwapSlot(slot)
	}
	src.ClearFrame()

	victim.page = dst
	dst.SetFrame(victim)

	elem := t.list.PushBack(victim)
	t.elemOf[victim] = elem
}
