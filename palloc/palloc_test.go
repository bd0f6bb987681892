package palloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mh-oh/pintos/defs"
)

func TestGetFreeRoundTrip(t *testing.T) {
	p := New(4)
	defer p.Close()

	require.Equal(t, 4, p.NumFree())

	f0, ok := p.Get()
	require.True(t, ok)
	require.Equal(t, 3, p.NumFree())

	p.Free(f0)
	require.Equal(t, 4, p.NumFree())
}

func TestGetExhaustion(t *testing.T) {
	p := New(2)
	defer p.Close()

	_, ok := p.Get()
	require.True(t, ok)
	_, ok = p.Get()
	require.True(t, ok)

	_, ok = p.Get()
	require.False(t, ok)
}

func TestBytesAreIndependentPerFrame(t *testing.T) {
	p := New(2)
	defer p.Close()

	f0, _ := p.Get()
	f1, _ := p.Get()

	b0 := p.Bytes(f0)
	b1 := p.Bytes(f1)
	require.Len(t, b0, defs.PGSIZE)

	b0[0] = 0xAB
	require.NotEqual(t, byte(0xAB), b1[0])
}

func TestFreeOutOfRangePanics(t *testing.T) {
	p := New(1)
	defer p.Close()
	require.Panics(t, func() { p.Free(Frame_t(99)) })
}
