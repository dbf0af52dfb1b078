//go:build !unix

package framering

// OffHeapAllocator returns the allocator used for slots whose addresses are
// exported across a foreign-function boundary. Without mmap, pinned heap
// memory is the closest equivalent.
func OffHeapAllocator() Allocator {
	return NewHeapAllocator(0)
}
