// Package semantic implements the embedding retrieval channel: a flat
// mmap-backed vector file scanned with SIMD dot products, gated by a cosine
// similarity threshold.
package semantic

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const pageSize int64 = 4096

var (
	ErrMmapClosed   = errors.New("mmap region is closed")
	ErrMmapReadonly = errors.New("cannot sync readonly mmap region")
	ErrInvalidSize  = errors.New("size must be positive")
)

// roundToPage rounds a size up to the nearest page boundary.
func roundToPage(size int64) int64 {
	if size <= 0 {
		return pageSize
	}
	return ((size + pageSize - 1) / pageSize) * pageSize
}

// mmapRegion is a memory-mapped file region.
type mmapRegion struct {
	data     []byte
	size     int64
	readonly bool
	file     *os.File
	closed   atomic.Bool
}

// mapFile memory-maps path at the given size. Writable mappings create and
// extend the file as needed.
func mapFile(path string, size int64, readonly bool) (*mmapRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: %w: got %d", ErrInvalidSize, size)
	}

	alignedSize := roundToPage(size)

	var file *os.File
	var err error

	if readonly {
		file, err = os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("mmap: open for reading: %w", err)
		}
	} else {
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("mmap: open for writing: %w", err)
		}
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("mmap: stat: %w", err)
		}
		if stat.Size() < alignedSize {
			if err := file.Truncate(alignedSize); err != nil {
				file.Close()
				return nil, fmt.Errorf("mmap: extend to %d bytes: %w", alignedSize, err)
			}
		}
	}

	prot := unix.PROT_READ
	if !readonly {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(alignedSize), prot, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap: map file: %w", err)
	}

	return &mmapRegion{
		data:     data,
		size:     alignedSize,
		readonly: readonly,
		file:     file,
	}, nil
}

// Data returns the mapped byte slice, nil once closed.
func (r *mmapRegion) Data() []byte {
	if r.closed.Load() {
		return nil
	}
	return r.data
}

func (r *mmapRegion) Size() int64 {
	return r.size
}

// Sync flushes the mapped region to disk.
func (r *mmapRegion) Sync() error {
	if r.closed.Load() {
		return ErrMmapClosed
	}
	if r.readonly {
		return ErrMmapReadonly
	}
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("mmap: msync: %w", err)
	}
	return nil
}

// Close releases the mapping and the underlying file. Safe to call twice.
func (r *mmapRegion) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			errs = append(errs, fmt.Errorf("mmap: munmap: %w", err))
		}
		r.data = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mmap: close file: %w", err))
		}
		r.file = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
