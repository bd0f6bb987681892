package vfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	f, err := Create(path)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)
	require.Equal(t, 11, n)

	buf := make([]byte, 5)
	n, err = f.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))
}

func TestLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	f, err := Create(path)
	require.NoError(t, err)
	defer f.Close()

	f.WriteAt([]byte("0123456789"), 0)
	n, err := f.Length()
	require.NoError(t, err)
	require.Equal(t, int64(10), n)
}

func TestReopenIsIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	f, err := Create(path)
	require.NoError(t, err)
	f.WriteAt([]byte("abc"), 0)

	clone, err := f.Reopen()
	require.NoError(t, err)

	require.NoError(t, f.Close())

	buf := make([]byte, 3)
	n, err := clone.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(buf))
	clone.Close()
}
