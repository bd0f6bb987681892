// Package vfile provides file-backed I/O for memory-mapped pages: read,
// write, length, and an independent reopen over the same path, all
// serialized under a single filesystem lock.
package vfile

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// / FSMu is the single filesystem lock every file operation below acquires.
// / It is a leaf lock, held only around file I/O and reopen.
var FSMu sync.Mutex

// / File_t is one open file handle. Reopen hands back an independent handle
// / over the same path; this is the handle clone that backs one mmap
// / mapping, kept separate from the caller's own open handle.
type File_t struct {
	fd   int
	path string
}

// / Open opens path for reading and writing.
func Open(path string) (*File_t, error) {
	FSMu.Lock()
	defer FSMu.Unlock()
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("vfile: open %s: %w", path, err)
	}
	return &File_t{fd: fd, path: path}, nil
}

// / Create opens path for reading and writing, creating it if necessary.
func Create(path string) (*File_t, error) {
	FSMu.Lock()
	defer FSMu.Unlock()
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vfile: create %s: %w", path, err)
	}
	return &File_t{fd: fd, path: path}, nil
}

// / ReadAt reads len(buf) bytes starting at off. It returns the number of
// / bytes actually read, which may be short at end of file.
func (f *File_t) ReadAt(buf []byte, off int64) (int, error) {
	FSMu.Lock()
	defer FSMu.Unlock()
	return unix.Pread(f.fd, buf, off)
}

// / WriteAt writes buf starting at off.
func (f *File_t) WriteAt(buf []byte, off int64) (int, error) {
	FSMu.Lock()
	defer FSMu.Unlock()
	return unix.Pwrite(f.fd, buf, off)
}

// / Length returns the current file size in bytes.
func (f *File_t) Length() (int64, error) {
	FSMu.Lock()
	defer FSMu.Unlock()
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, fmt.Errorf("vfile: stat %s: %w", f.path, err)
	}
	return st.Size, nil
}

// / Reopen returns an independent File_t over the same path. Closing the
// / original does not affect the clone.
func (f *File_t) Reopen() (*File_t, error) {
	FSMu.Lock()
	path := f.path
	FSMu.Unlock()
	return Open(path)
}

// / Close releases the underlying descriptor.
func (f *File_t) Close() error {
	FSMu.Lock()
	defer FSMu.Unlock()
	return unix.Close(f.fd)
}
