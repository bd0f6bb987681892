// Package blockdev implements a synchronous, sector-addressed block device
// over a regular file: direct pread/pwrite via golang.org/x/sys/unix, no
// request/ack-channel queue, since swap I/O must be synchronous.
package blockdev

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// / Disk_i is the synchronous block device contract consumed by the swap
// / allocator: page-sized read/write at a sector offset.
type Disk_i interface {
	ReadSector(sector int64, dst []byte) error
	WriteSector(sector int64, src []byte) error
	SectorSize() int
	NumSectors() int64
}

// / FileDisk_t backs Disk_i with a regular file, addressed by raw
// / pread64/pwrite64 so no seek state is shared across concurrent callers.
type FileDisk_t struct {
	fd         int
	sectorSize int
	nsectors   int64
}

// / Open opens (creating if necessary) path as a block device with the
// / given sector size and total sector count, truncating/extending the
// / backing file to exactly nsectors*sectorSize bytes.
func Open(path string, sectorSize int, nsectors int64) (*FileDisk_t, error) {
	if sectorSize <= 0 || nsectors <= 0 {
		return nil, fmt.Errorf("blockdev: bad geometry sectorSize=%d nsectors=%d", sectorSize, nsectors)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	size := nsectors * int64(sectorSize)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
	}
	return &FileDisk_t{fd: fd, sectorSize: sectorSize, nsectors: nsectors}, nil
}

// / SectorSize returns the device's sector size in bytes.
func (d *FileDisk_t) SectorSize() int { return d.sectorSize }

// / NumSectors returns the total number of addressable sectors.
func (d *FileDisk_t) NumSectors() int64 { return d.nsectors }

func (d *FileDisk_t) checksector(sector int64) {
	if sector < 0 || sector >= d.nsectors {
		panic("blockdev: sector out of range")
	}
}

// / ReadSector reads exactly SectorSize() bytes from the given sector into
// / dst. It panics on short I/O: the block layer is assumed reliable.
func (d *FileDisk_t) ReadSector(sector int64, dst []byte) error {
	d.checksector(sector)
	if len(dst) != d.sectorSize {
		panic("blockdev: dst size mismatch")
	}
	off := sector * int64(d.sectorSize)
	n, err := unix.Pread(d.fd, dst, off)
	if err != nil {
		return fmt.Errorf("blockdev: read sector %d: %w", sector, err)
	}
	if n != d.sectorSize {
		panic("blockdev: short read")
	}
	return nil
}

// / WriteSector writes exactly SectorSize() bytes from src to the given
// / sector.
func (d *FileDisk_t) WriteSector(sector int64, src []byte) error {
	d.checksector(sector)
	if len(src) != d.sectorSize {
		panic("blockdev: src size mismatch")
	}
	off := sector * int64(d.sectorSize)
	n, err := unix.Pwrite(d.fd, src, off)
	if err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", sector, err)
	}
	if n != d.sectorSize {
		panic("blockdev: short write")
	}
	return nil
}

// / Close releases the underlying file descriptor.
func (d *FileDisk_t) Close() error {
	return unix.Close(d.fd)
}
