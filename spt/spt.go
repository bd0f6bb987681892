// Package spt implements the supplemental page table: per-process metadata
// for every user virtual page, the page-fault workhorse that materializes
// a page's contents on demand, and mmap/munmap teardown. This is the
// component that coordinates the frame table and the swap allocator under
// concurrent faults and process teardown.
package spt

import (
	"sync"

	"github.com/mh-oh/pintos/defs"
	"github.com/mh-oh/pintos/frame"
	"github.com/mh-oh/pintos/hashtable"
	"github.com/mh-oh/pintos/pagedir"
	"github.com/mh-oh/pintos/stats"
	"github.com/mh-oh/pintos/swap"
	"github.com/mh-oh/pintos/util"
	"github.com/mh-oh/pintos/vfile"
)

// / Ptype_t names where an entry's contents come from.
type Ptype_t int

const (
	Unknown Ptype_t = iota
	File
	Swap
	Zero
)

const buckets = 64

// / Entry is one supplemental page table entry. It implements frame.Page_i
// / so the frame table can drive eviction without importing this package.
type Entry struct {
	mu sync.Mutex

	upage    uintptr
	pd       *pagedir.Dir_t
	writable bool
	dirty    bool
	ptype    Ptype_t
	frame    *frame.FTE

	file       *vfile.File_t
	fileOffset int64
	readBytes  int
	zeroBytes  int

	slot swap.Slot_t
}

// / Upage returns the entry's page-aligned user virtual address.
func (e *Entry) Upage() uintptr { return e.upage }

// / WasAccessed reads and clears the hardware accessed bit.
func (e *Entry) WasAccessed() bool {
	a := e.pd.IsAccessed(e.upage)
	e.pd.SetAccessed(e.upage, false)
	return a
}

// / HardwareDirty reports the hardware dirty bit, independent of the
// / sticky software bit.
func (e *Entry) HardwareDirty() bool {
	return e.pd.IsDirty(e.upage)
}

// / ClearMapping removes the hardware mapping for this entry's page.
func (e *Entry) ClearMapping() {
	e.pd.Clear(e.upage)
}

// / MarkDirty sets the sticky software dirty bit. Once true it never goes
// / false until the entry is destroyed.
func (e *Entry) MarkDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

// / IsDirty reports the sticky software dirty bit.
func (e *Entry) IsDirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// / SetSwapSlot records that this entry's contents now live at slot,
// / called by the frame table during eviction.
func (e *Entry) SetSwapSlot(slot swap.Slot_t) {
	e.mu.Lock()
	e.slot = slot
	e.ptype = Swap
	e.mu.Unlock()
}

// / SetFrame records f as the frame currently backing this entry.
func (e *Entry) SetFrame(f *frame.FTE) {
	e.mu.Lock()
	e.frame = f
	e.mu.Unlock()
}

// / ClearFrame records that this entry no longer owns a frame, called by
// / the frame table when eviction transfers the frame away.
func (e *Entry) ClearFrame() {
	e.mu.Lock()
	e.frame = nil
	e.mu.Unlock()
}

// / Writable reports whether the page should be mapped writable.
func (e *Entry) Writable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writable
}

// / Type returns the entry's materialization source.
func (e *Entry) Type() Ptype_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ptype
}

// / SetFile fills an UNKNOWN entry as a FILE descriptor. readBytes and
// / zeroBytes must sum to exactly one page.
func (e *Entry) SetFile(f *vfile.File_t, offset int64, readBytes, zeroBytes int, writable bool) {
	if readBytes+zeroBytes != defs.PGSIZE {
		panic("spt: read_bytes + zero_bytes != PAGE_SIZE")
	}
	e.mu.Lock()
	e.ptype = File
	e.file = f
	e.fileOffset = offset
	e.readBytes = readBytes
	e.zeroBytes = zeroBytes
	e.writable = writable
	e.mu.Unlock()
}

// / SetZero fills an UNKNOWN entry as a ZERO descriptor.
func (e *Entry) SetZero(writable bool) {
	e.mu.Lock()
	e.ptype = Zero
	e.writable = writable
	e.mu.Unlock()
}

// fileParams returns the fields spt_load needs to service a FILE fault.
func (e *Entry) fileParams() (*vfile.File_t, int64, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file, e.fileOffset, e.readBytes
}

// fileWriteParams returns the fields munmap needs to write a page back.
func (e *Entry) fileWriteParams() (*vfile.File_t, int64, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file, e.fileOffset, e.readBytes
}

// takeSwapSlot returns the entry's current slot and resets it to NO_SLOT,
// since the slot is freed once its contents are read back in.
func (e *Entry) takeSwapSlot() swap.Slot_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.slot
	e.slot = swap.Slot_t(defs.NO_SLOT)
	return s
}

func (e *Entry) snapshotFrameAndSlot() (*frame.FTE, swap.Slot_t) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame, e.slot
}

// materialized returns the entry's current contents regardless of whether
// they live in a frame or on swap, consuming the swap slot if it reads from
// swap. Used by munmap to write back pages that were spilled to swap while
// mapped.
func (e *Entry) materialized(frames *frame.Table_t, swapper *swap.Allocator_t) []byte {
	f, slot := e.snapshotFrameAndSlot()
	buf := make([]byte, defs.PGSIZE)
	if f != nil {
		copy(buf, frames.Bytes(f))
		return buf
	}
	if int(slot) != defs.NO_SLOT {
		swapper.In(buf, slot)
		e.mu.Lock()
		e.slot = swap.Slot_t(defs.NO_SLOT)
		e.mu.Unlock()
		return buf
	}
	return buf
}

// / mapping_t is one mmap mapping.
type mapping_t struct {
	file      *vfile.File_t
	base      uintptr
	pageCount int
}

// / Table_t is one process's supplemental page table.
type Table_t struct {
	mu        sync.Mutex
	ht        *hashtable.Hashtable_t
	pd        *pagedir.Dir_t
	frames    *frame.Table_t
	swapper   *swap.Allocator_t
	nextMapID int
	mappings  map[int]*mapping_t

	Stats Stats_t
}

// / Stats_t is the SPT's debug instrumentation.
type Stats_t struct {
	Loads     stats.Counter_t
	LoadFails stats.Counter_t
}

// / Create allocates an empty per-process supplemental page table.
func Create(pd *pagedir.Dir_t, frames *frame.Table_t, swapper *swap.Allocator_t) *Table_t {
	return &Table_t{
		ht:       hashtable.MkHash(buckets),
		pd:       pd,
		frames:   frames,
		swapper:  swapper,
		mappings: make(map[int]*mapping_t),
	}
}

// / MakeEntry inserts a new UNKNOWN entry for upage. It returns ok == false
// / if upage already has an entry.
func (t *Table_t) MakeEntry(upage uintptr) (*Entry, bool) {
	if !util.Aligned(upage, uintptr(defs.PGSIZE)) {
		panic("spt: MakeEntry on unaligned address")
	}
	e := &Entry{upage: upage, pd: t.pd, ptype: Unknown, slot: swap.Slot_t(defs.NO_SLOT)}
	_, inserted := t.ht.Set(upage, e)
	if !inserted {
		return nil, false
	}
	return e, true
}

// / Lookup returns the entry for upage, if any.
func (t *Table_t) Lookup(upage uintptr) (*Entry, bool) {
	v, ok := t.ht.Get(upage)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// / Load services a page fault on upage: it materializes the page and
// / installs the hardware mapping. It returns false if there is no
// / descriptor for upage (the caller decides whether to attempt stack
// / growth) or if materialization/install fails.
func (t *Table_t) Load(upage uintptr) bool {
	t.Stats.Loads.Inc()
	upage = util.Rounddown(upage, uintptr(defs.PGSIZE))
	spte, ok := t.Lookup(upage)
	if !ok {
		t.Stats.LoadFails.Inc()
		return false
	}

	fte := t.frames.Alloc(spte)
	buf := t.frames.Bytes(fte)

	switch spte.Type() {
	case File:
		f, off, rb := spte.fileParams()
		n, err := f.ReadAt(buf[:rb], off)
		if err != nil || n != rb {
			t.frames.Free(fte)
			frame.Unpin(fte)
			t.Stats.LoadFails.Inc()
			return false
		}
		for i := rb; i < defs.PGSIZE; i++ {
			buf[i] = 0
		}
	case Swap:
		slot := spte.takeSwapSlot()
		t.swapper.In(buf, slot)
	case Zero:
		for i := range buf {
			buf[i] = 0
		}
	default:
		panic("spt: load of entry with unknown type")
	}

	if !t.pd.Set(upage, t.frames.FrameID(fte), spte.Writable()) {
		t.frames.Free(fte)
		frame.Unpin(fte)
		t.Stats.LoadFails.Inc()
		return false
	}
	frame.Unpin(fte)
	return true
}

// / RemoveEntry tears down one entry, handling the race against a
// / concurrent eviction: pin the frame (blocking out any in-progress
// / eviction), then re-check ownership before freeing it.
func (t *Table_t) RemoveEntry(e *Entry) {
	e.mu.Lock()
	f := e.frame
	e.mu.Unlock()

	if f != nil {
		frame.PinBlocking(f)
		e.mu.Lock()
		stillOwner := e.frame == f
		e.mu.Unlock()
		if stillOwner {
			t.frames.Free(f)
		}
		frame.Unpin(f)
	}

	e.mu.Lock()
	slot := e.slot
	e.mu.Unlock()
	if int(slot) != defs.NO_SLOT {
		t.swapper.Free(slot)
	}

	t.ht.Del(e.upage)
}

// / Destroy tears down every entry in the table.
func (t *Table_t) Destroy() {
	for _, p := range t.ht.Elems() {
		t.RemoveEntry(p.Value.(*Entry))
	}
}

// / MappingIDs returns the ids of all mappings still open, for implicit
// / munmap at process exit.
func (t *Table_t) MappingIDs() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.mappings))
	for id := range t.mappings {
		ids = append(ids, id)
	}
	return ids
}

// / Mmap installs a FILE mapping for every page of f starting at addr. It
// / returns (0, defs.EINVAL) on any validation failure or range collision,
// / undoing partially inserted entries.
func (t *Table_t) Mmap(f *vfile.File_t, addr uintptr) (int, defs.Err_t) {
	if addr == 0 || !util.Aligned(addr, uintptr(defs.PGSIZE)) {
		return 0, defs.EINVAL
	}
	length, err := f.Length()
	if err != nil || length == 0 {
		return 0, defs.EINVAL
	}

	clone, err := f.Reopen()
	if err != nil {
		return 0, defs.EINVAL
	}

	pageCount := int((length + int64(defs.PGSIZE) - 1) / int64(defs.PGSIZE))
	created := make([]*Entry, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		upage := addr + uintptr(i*defs.PGSIZE)
		e, ok := t.MakeEntry(upage)
		if !ok {
			for _, c := range created {
				t.RemoveEntry(c)
			}
			clone.Close()
			return 0, defs.EINVAL
		}
		off := int64(i * defs.PGSIZE)
		remain := length - off
		rb := int64(defs.PGSIZE)
		if remain < rb {
			rb = remain
		}
		e.SetFile(clone, off, int(rb), defs.PGSIZE-int(rb), true)
		created = append(created, e)
	}

	t.mu.Lock()
	t.nextMapID++
	id := t.nextMapID
	t.mappings[id] = &mapping_t{file: clone, base: addr, pageCount: pageCount}
	t.mu.Unlock()
	return id, 0
}

// / Munmap writes back every dirty page of mapping id to its file, tears
// / down its entries, and closes the mapping's file handle.
func (t *Table_t) Munmap(id int) defs.Err_t {
	t.mu.Lock()
	m, ok := t.mappings[id]
	if ok {
		delete(t.mappings, id)
	}
	t.mu.Unlock()
	if !ok {
		return defs.EINVAL
	}

	for i := 0; i < m.pageCount; i++ {
		upage := m.base + uintptr(i*defs.PGSIZE)
		spte, ok := t.Lookup(upage)
		if !ok {
			continue
		}
		if t.pd.IsDirty(upage) {
			spte.MarkDirty()
		}
		if spte.IsDirty() {
			buf := spte.materialized(t.frames, t.swapper)
			file, off, rb := spte.fileWriteParams()
			file.WriteAt(buf[:rb], off)
		}
		t.RemoveEntry(spte)
	}
	m.file.Close()
	return 0
}
