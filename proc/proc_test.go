package proc

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mh-oh/pintos/blockdev"
	"github.com/mh-oh/pintos/defs"
	"github.com/mh-oh/pintos/frame"
	"github.com/mh-oh/pintos/palloc"
	"github.com/mh-oh/pintos/swap"
	"github.com/mh-oh/pintos/vfile"
)

type harness struct {
	pool    *palloc.Pool_t
	frames  *frame.Table_t
	swapper *swap.Allocator_t
}

func newHarness(t *testing.T, npages, nslots int) *harness {
	t.Helper()
	pool := palloc.New(npages)
	t.Cleanup(func() { pool.Close() })

	path := filepath.Join(t.TempDir(), "swap.img")
	secsz := 512
	secPerPage := defs.PGSIZE / secsz
	dev, err := blockdev.Open(path, secsz, int64(nslots*secPerPage))
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	swapper := swap.Init(dev)
	frames := frame.Init(pool, swapper)
	return &harness{pool: pool, frames: frames, swapper: swapper}
}

func writeTestFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// S1 — lazy load + zero fill.
func TestLazyLoadAndZeroFill(t *testing.T) {
	h := newHarness(t, 8, 8)
	p := New(h.frames, h.pool, h.swapper)

	content := make([]byte, defs.PGSIZE+100)
	for i := range content {
		content[i] = byte(i)
	}
	path := writeTestFile(t, content)
	f, err := vfile.Open(path)
	require.NoError(t, err)
	defer f.Close()

	const base uintptr = 0x08048000
	page0 := base
	page1 := base + uintptr(defs.PGSIZE)
	page2 := base + uintptr(2*defs.PGSIZE)

	e0, ok := p.Spt.MakeEntry(page0)
	require.True(t, ok)
	e0.SetFile(f, 0, defs.PGSIZE, 0, false)

	e1, ok := p.Spt.MakeEntry(page1)
	require.True(t, ok)
	e1.SetFile(f, int64(defs.PGSIZE), 100, defs.PGSIZE-100, false)

	e2, ok := p.Spt.MakeEntry(page2)
	require.True(t, ok)
	e2.SetZero(true)

	b, ok := p.ReadByte(page0, 0)
	require.True(t, ok)
	require.Equal(t, content[0], b)

	b, ok = p.ReadByte(page1+100, 0)
	require.True(t, ok)
	require.Equal(t, byte(0), b)

	require.Equal(t, 0, h.swapper.UsedSlots())
}

// S2 — dirty eviction round-trip.
func TestDirtyEvictionRoundTrip(t *testing.T) {
	h := newHarness(t, 4, 8)
	p := New(h.frames, h.pool, h.swapper)

	const base uintptr = 0x10000000
	pages := make([]uintptr, 5)
	for i := range pages {
		pages[i] = base + uintptr(i*defs.PGSIZE)
		e, ok := p.Spt.MakeEntry(pages[i])
		require.True(t, ok)
		e.SetZero(true)
		require.True(t, p.WriteByte(pages[i], byte(i), 0))
	}

	for i, up := range pages {
		b, ok := p.ReadByte(up, 0)
		require.True(t, ok)
		require.Equal(t, byte(i), b)
	}

	require.Equal(t, 0, h.swapper.UsedSlots(), "every swapped-in slot must be freed")
}

// S3 — mmap write-back.
func TestMmapWriteBack(t *testing.T) {
	h := newHarness(t, 1, 4)
	p := New(h.frames, h.pool, h.swapper)

	content := make([]byte, 2*defs.PGSIZE)
	path := writeTestFile(t, content)
	f, err := vfile.Open(path)
	require.NoError(t, err)
	defer f.Close()

	const base uintptr = 0x20000000
	id, errno := p.Mmap(f, base)
	require.Equal(t, defs.Err_t(0), errno)

	for off := 0; off < defs.PGSIZE; off++ {
		require.True(t, p.WriteByte(base+uintptr(off), 0xAB, 0))
	}

	// Force an eviction without touching page 1: fault an unrelated page
	// with the pool already at capacity (1 frame).
	other := base + uintptr(100*defs.PGSIZE)
	oe, ok := p.Spt.MakeEntry(other)
	require.True(t, ok)
	oe.SetZero(true)
	require.True(t, p.Spt.Load(other))

	require.Equal(t, defs.Err_t(0), p.Munmap(id))

	back, err := os.ReadFile(path)
	require.NoError(t, err)
	for i := 0; i < defs.PGSIZE; i++ {
		require.Equal(t, byte(0xAB), back[i], "page 0 must be written back")
	}
	for i := defs.PGSIZE; i < 2*defs.PGSIZE; i++ {
		require.Equal(t, byte(0), back[i], "page 1 was never touched")
	}
}

// S4 — overlap rejection.
func TestMmapOverlapRejection(t *testing.T) {
	h := newHarness(t, 8, 8)
	p := New(h.frames, h.pool, h.swapper)

	f1, err := vfile.Open(writeTestFile(t, make([]byte, 4*defs.PGSIZE)))
	require.NoError(t, err)
	defer f1.Close()
	f2, err := vfile.Open(writeTestFile(t, make([]byte, 3*defs.PGSIZE)))
	require.NoError(t, err)
	defer f2.Close()

	const base uintptr = 0x30000000
	id, errno := p.Mmap(f1, base)
	require.Equal(t, defs.Err_t(0), errno)
	require.NotZero(t, id)

	_, errno = p.Mmap(f2, base+2*uintptr(defs.PGSIZE))
	require.Equal(t, defs.EINVAL, errno)

	_, ok := p.Spt.Lookup(base + 4*uintptr(defs.PGSIZE))
	require.False(t, ok)
	_, ok = p.Spt.Lookup(base + 5*uintptr(defs.PGSIZE))
	require.False(t, ok)
}

// S6 — stack growth.
func TestStackGrowth(t *testing.T) {
	h := newHarness(t, 4, 4)
	p := New(h.frames, h.pool, h.swapper)

	const esp uintptr = 0xBFFFFFF0
	const fault uintptr = 0xBFFFFFE8

	require.True(t, p.Fault(fault, esp))

	b, ok := p.ReadByte(fault, esp)
	require.True(t, ok)
	require.Equal(t, byte(0), b)
}

func TestStackGrowthRejectsFarFault(t *testing.T) {
	h := newHarness(t, 4, 4)
	p := New(h.frames, h.pool, h.swapper)

	const esp uintptr = 0xBFFFFFF0
	far := esp - 4096
	require.False(t, p.Fault(far, esp))
}

// S5 — concurrent teardown during eviction, stressed rather than
// single-stepped: many processes share one frame table/pool/swapper sized
// far smaller than their combined working set, so eviction and process
// exit race constantly. The invariant under test is that every frame is
// eventually returned to the pool with no double free and no leak.
func TestConcurrentExitDuringEvictionPressure(t *testing.T) {
	h := newHarness(t, 2, 64)

	const nprocs = 6
	var wg sync.WaitGroup
	for i := 0; i < nprocs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := New(h.frames, h.pool, h.swapper)
			base := uintptr(0x40000000 + i*0x1000000)
			for j := 0; j < 10; j++ {
				up := base + uintptr(j*defs.PGSIZE)
				e, ok := p.Spt.MakeEntry(up)
				if ok {
					e.SetZero(true)
					p.WriteByte(up, byte(j), 0)
				}
			}
			p.Exit()
		}(i)
	}
	wg.Wait()

	require.Equal(t, h.pool.Capacity(), h.pool.NumFree())
}
