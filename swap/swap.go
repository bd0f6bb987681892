// Package swap implements the swap slot allocator: a bitmap of fixed-size
// slots on a block device, with blocking whole-page read/write.
package swap

import (
	"fmt"
	"sync"

	"github.com/mh-oh/pintos/bitmap"
	"github.com/mh-oh/pintos/blockdev"
	"github.com/mh-oh/pintos/defs"
)

// / Slot_t is an index into the swap device's slot array. NO_SLOT
// / (defs.NO_SLOT) means "no slot assigned".
type Slot_t int

// / Allocator_t is the swap slot allocator. It is a process-wide singleton
// / in the original design; here it is an explicit value so tests can run
// / multiple independent instances concurrently.
type Allocator_t struct {
	mu         sync.Mutex // protects used only; I/O runs without it held
	used       *bitmap.Bitmap_t
	dev        blockdev.Disk_i
	secPerPage int
}

// / Init binds to dev and computes the slot count from the device's sector
// / count and the kernel's page size. It panics (fatal) if the page size is
// / not a multiple of dev's sector size, if dev holds less than one slot,
// / or if the bitmap cannot be allocated. Sectors past the last whole slot
// / are left unused.
func Init(dev blockdev.Disk_i) *Allocator_t {
	if dev == nil {
		panic("swap: nil device")
	}
	secsz := dev.SectorSize()
	if secsz <= 0 || defs.PGSIZE%secsz != 0 {
		panic(fmt.Sprintf("swap: page size %d not a multiple of sector size %d", defs.PGSIZE, secsz))
	}
	secPerPage := defs.PGSIZE / secsz
	nslots := dev.NumSectors() / int64(secPerPage)
	if nslots <= 0 {
		panic("swap: device too small for even one slot")
	}
	bm := bitmap.New(int(nslots))
	if bm == nil {
		panic("swap: bitmap allocation failed")
	}
	return &Allocator_t{used: bm, dev: dev, secPerPage: secPerPage}
}

// / NumSlots returns the total number of swap slots.
func (a *Allocator_t) NumSlots() int {
	return a.used.Len()
}

// / UsedSlots returns the number of currently allocated slots.
func (a *Allocator_t) UsedSlots() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used.PopCount()
}

// / Out claims a free slot and writes exactly PGSIZE bytes from src to it in
// / sector-sized chunks. It panics if no slot is free: swap exhaustion is
// / fatal in this design.
func (a *Allocator_t) Out(src []byte) Slot_t {
	if len(src) != defs.PGSIZE {
		panic("swap: Out requires exactly one page")
	}

	a.mu.Lock()
	slot := a.used.ScanAndFlip()
	a.mu.Unlock()
	if slot < 0 {
		panic("swap: no free slot")
	}

	base := int64(slot * a.secPerPage)
	secsz := a.dev.SectorSize()
	for i := 0; i < a.secPerPage; i++ {
		chunk := src[i*secsz : (i+1)*secsz]
		if err := a.dev.WriteSector(base+int64(i), chunk); err != nil {
			panic(err)
		}
	}
	return Slot_t(slot)
}

// / In reads exactly PGSIZE bytes from slot into dst and frees the slot.
// / The caller must guarantee slot was returned by a prior Out and not yet
// / freed.
func (a *Allocator_t) In(dst []byte, slot Slot_t) {
	if len(dst) != defs.PGSIZE {
		panic("swap: In requires exactly one page")
	}
	a.checkAllocated(slot)

	base := int64(int(slot) * a.secPerPage)
	secsz := a.dev.SectorSize()
	for i := 0; i < a.secPerPage; i++ {
		chunk := dst[i*secsz : (i+1)*secsz]
		if err := a.dev.ReadSector(base+int64(i), chunk); err != nil {
			panic(err)
		}
	}

	a.mu.Lock()
	a.used.Clear(int(slot))
	a.mu.Unlock()
}

// / Free marks slot free without reading its contents.
func (a *Allocator_t) Free(slot Slot_t) {
	a.checkAllocated(slot)
	a.mu.Lock()
	a.used.Clear(int(slot))
	a.mu.Unlock()
}

func (a *Allocator_t) checkAllocated(slot Slot_t) {
	if int(slot) == defs.NO_SLOT {
		panic("swap: operation on NO_SLOT")
	}
	a.mu.Lock()
	ok := a.used.Test(int(slot))
	a.mu.Unlock()
	if !ok {
		panic("swap: slot not allocated")
	}
}
