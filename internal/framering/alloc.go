package framering

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Allocator reserves and releases the backing memory of ring slots. Free is
// always called with the exact slice Alloc returned.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(b []byte)
}

var errLimitExceeded = errors.New("allocator limit exceeded")

// HeapAllocator allocates slot memory on the Go heap and pins it so its
// address may be handed to foreign code for the lifetime of the slot.
type HeapAllocator struct {
	limit int64

	mu   sync.Mutex
	used int64
	pins map[*byte]*runtime.Pinner
}

// NewHeapAllocator returns a HeapAllocator that refuses to hold more than
// limit bytes at once. A limit of 0 means unlimited.
func NewHeapAllocator(limit int64) *HeapAllocator {
	return &HeapAllocator{
		limit: limit,
		pins:  make(map[*byte]*runtime.Pinner),
	}
}

// Alloc returns a zeroed block of size bytes.
func (a *HeapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("alloc %d bytes: %w", size, ErrInvalidArgument)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.used+int64(size) > a.limit {
		return nil, fmt.Errorf("alloc %d bytes (%d in use, limit %d): %w", size, a.used, a.limit, errLimitExceeded)
	}

	b := make([]byte, size)
	p := new(runtime.Pinner)
	p.Pin(&b[0])
	a.pins[&b[0]] = p
	a.used += int64(size)
	return b, nil
}

// Free unpins b and returns its bytes to the limit budget.
func (a *HeapAllocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pins[&b[0]]
	if !ok {
		return
	}
	p.Unpin()
	delete(a.pins, &b[0])
	a.used -= int64(len(b))
}

// InUse returns the number of bytes currently allocated.
func (a *HeapAllocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

var defaultAllocator = NewHeapAllocator(0)
