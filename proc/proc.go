// Package proc provides the minimal process abstraction the VM core sits
// behind: a supplemental page table, a page directory, and the page-fault
// entry point (receives the faulting address and saved user stack
// pointer, attempts a page-table load then stack growth, reports failure
// so the caller can kill the process). User-program loading, scheduling,
// and argument passing are out of scope; this package exists only to give
// the VM core a caller.
package proc

import (
	"github.com/mh-oh/pintos/defs"
	"github.com/mh-oh/pintos/frame"
	"github.com/mh-oh/pintos/pagedir"
	"github.com/mh-oh/pintos/palloc"
	"github.com/mh-oh/pintos/spt"
	"github.com/mh-oh/pintos/swap"
	"github.com/mh-oh/pintos/util"
	"github.com/mh-oh/pintos/vfile"
)

// / DefaultStackTop is the address one past the top of the user stack
// / region (the Pintos convention PHYS_BASE). Faults at or above it are
// / never eligible for stack growth.
const DefaultStackTop uintptr = 0xC0000000

// / Proc_t is one user process's VM-relevant state.
type Proc_t struct {
	Spt      *spt.Table_t
	Pd       *pagedir.Dir_t
	StackTop uintptr

	frames *frame.Table_t
	pool   *palloc.Pool_t
}

// / New creates a process with an empty address space, drawing frames from
// / frames/pool and spilling to swapper.
func New(frames *frame.Table_t, pool *palloc.Pool_t, swapper *swap.Allocator_t) *Proc_t {
	pd := pagedir.New()
	return &Proc_t{
		Spt:      spt.Create(pd, frames, swapper),
		Pd:       pd,
		StackTop: DefaultStackTop,
		frames:   frames,
		pool:     pool,
	}
}

// / Fault is the page-fault entry point: it tries a page table load, then
// / stack growth (a ZERO descriptor for the faulting page, if within
// / StackGrowthWindow bytes below esp and below the stack ceiling), and
// / reports whether the fault was serviced. The caller is responsible for
// / killing the process with exit status -1 on a false return.
func (p *Proc_t) Fault(addr, esp uintptr) bool {
	if p.Spt.Load(addr) {
		return true
	}

	if addr+defs.StackGrowthWindow < esp || addr >= p.StackTop {
		return false
	}

	upage := util.Rounddown(addr, uintptr(defs.PGSIZE))
	if e, ok := p.Spt.MakeEntry(upage); ok {
		e.SetZero(true)
	}
	return p.Spt.Load(upage)
}

// / ReadByte simulates a user-mode read of addr, faulting the containing
// / page in via esp-aware stack growth if necessary.
func (p *Proc_t) ReadByte(addr, esp uintptr) (byte, bool) {
	upage := util.Rounddown(addr, uintptr(defs.PGSIZE))
	if _, ok := p.Pd.Get(upage); !ok {
		if !p.Fault(addr, esp) {
			return 0, false
		}
	}
	fid, ok := p.Pd.Get(upage)
	if !ok {
		return 0, false
	}
	p.Pd.SetAccessed(upage, true)
	off := addr - upage
	return p.frames.BytesByID(fid)[off], true
}

// / WriteByte simulates a user-mode write of addr. It fails if the page is
// / mapped read-only.
func (p *Proc_t) WriteByte(addr uintptr, v byte, esp uintptr) bool {
	upage := util.Rounddown(addr, uintptr(defs.PGSIZE))
	if _, ok := p.Pd.Get(upage); !ok {
		if !p.Fault(addr, esp) {
			return false
		}
	}
	fid, ok := p.Pd.Get(upage)
	if !ok || !p.Pd.Writable(upage) {
		return false
	}
	off := addr - upage
	p.frames.BytesByID(fid)[off] = v
	p.Pd.SetAccessed(upage, true)
	p.Pd.SetDirty(upage, true)
	return true
}

// / Mmap maps f at addr.
func (p *Proc_t) Mmap(f *vfile.File_t, addr uintptr) (int, defs.Err_t) {
	return p.Spt.Mmap(f, addr)
}

// / Munmap unmaps mapping id, writing back dirty pages.
func (p *Proc_t) Munmap(id int) defs.Err_t {
	return p.Spt.Munmap(id)
}

// / Exit tears the process's address space down: every open mmap mapping
// / is unmapped (writing back dirty pages), every remaining supplemental
// / page table entry is destroyed, and finally the page directory releases
// / its physical frames back to the pool.
func (p *Proc_t) Exit() {
	for _, id := range p.Spt.MappingIDs() {
		p.Spt.Munmap(id)
	}
	p.Spt.Destroy()
	p.Pd.Teardown(p.pool)
}
