//go:build unix

package framering

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator maps each slot as an anonymous private region outside the Go
// heap. The memory never moves and is invisible to the garbage collector, so
// raw slot addresses can be retained by foreign runtimes until Free.
type MmapAllocator struct{}

// Alloc maps size bytes of zeroed, read-write memory.
func (MmapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, ErrInvalidArgument)
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// Free unmaps b.
func (MmapAllocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Munmap(b)
}

// OffHeapAllocator returns the allocator used for slots whose addresses are
// exported across a foreign-function boundary.
func OffHeapAllocator() Allocator {
	return MmapAllocator{}
}
