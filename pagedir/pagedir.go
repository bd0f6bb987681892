// Package pagedir simulates a hardware page directory: the mapping from
// page-aligned user virtual address to physical frame, plus the
// accessed/dirty bits a real MMU would maintain. There is no MMU here, so
// accessed/dirty tracking is driven explicitly by whichever code path
// touches a mapping (the simulated user-memory accessors in package proc)
// rather than by a CPU trap.
package pagedir

import (
	"sync"

	"github.com/mh-oh/pintos/palloc"
)

type pte struct {
	frame    palloc.Frame_t
	writable bool
	accessed bool
	dirty    bool
}

// / Dir_t is one process's page directory: a map from page-aligned user
// / virtual address to the frame currently mapped there, plus the
// / accessed/dirty bits the eviction and teardown paths rely on.
type Dir_t struct {
	mu      sync.Mutex
	entries map[uintptr]*pte
}

// / New returns an empty page directory.
func New() *Dir_t {
	return &Dir_t{entries: make(map[uintptr]*pte)}
}

// / Get returns the frame mapped at upage, if any.
func (d *Dir_t) Get(upage uintptr) (palloc.Frame_t, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	if !ok {
		return 0, false
	}
	return e.frame, true
}

// / Set installs a mapping from upage to kpage with the given write
// / permission. It returns false (and installs nothing) if upage is
// / already mapped.
func (d *Dir_t) Set(upage uintptr, kpage palloc.Frame_t, writable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[upage]; ok {
		return false
	}
	d.entries[upage] = &pte{frame: kpage, writable: writable}
	return true
}

// / Clear removes the mapping at upage, if present. It is a no-op
// / if upage is unmapped.
func (d *Dir_t) Clear(upage uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, upage)
}

// / Writable reports whether upage is mapped writable. It returns false if
// / upage is unmapped.
func (d *Dir_t) Writable(upage uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	return ok && e.writable
}

// / IsDirty reports the hardware dirty bit for upage. Unmapped pages report
// / false.
func (d *Dir_t) IsDirty(upage uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	return ok && e.dirty
}

// / IsAccessed reports the hardware accessed bit for upage.
func (d *Dir_t) IsAccessed(upage uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[upage]
	return ok && e.accessed
}

// / SetAccessed sets or clears the accessed bit for upage. It is a no-op if
// / upage is unmapped (the page may have been cleared concurrently by an
// / evictor).
func (d *Dir_t) SetAccessed(upage uintptr, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[upage]; ok {
		e.accessed = v
	}
}

// / SetDirty sets the dirty bit for upage, simulating a hardware write
// / fault. It is a no-op if upage is unmapped.
func (d *Dir_t) SetDirty(upage uintptr, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[upage]; ok {
		e.dirty = v
	}
}

// / Teardown releases every frame still mapped in d back to pool and
// / clears the directory. This is the point at which physical pool entries
// / actually become free again; supplemental page table teardown only
// / manages frame table entry bookkeeping.
func (d *Dir_t) Teardown(pool *palloc.Pool_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		pool.Free(e.frame)
	}
	d.entries = make(map[uintptr]*pte)
}
