package framering

import (
	"unsafe"

	"github.com/zsiec/framexchange/media"
)

// Handle is a borrowed reference to a ring slot. It is valid until the slot
// is written again (after capacity further pushes) or the ring is closed.
// Handles are plain values and are not reference counted.
type Handle struct {
	s   *slot
	seq uint64
}

// IsZero reports whether h refers to no slot.
func (h Handle) IsZero() bool { return h.s == nil }

// Seq returns the write sequence number the slot held when h was handed out.
// Sequence numbers start at 1 and increase by one per successful push.
func (h Handle) Seq() uint64 { return h.seq }

// Stale reports whether the slot has been rewritten since h was handed out.
// A false result does not guarantee a concurrent write is not in progress.
func (h Handle) Stale() bool {
	return h.s != nil && h.s.seq.Load() != h.seq
}

// Frame returns a borrowed view of the slot. Copy what is needed before the
// slot can be overwritten.
func (h Handle) Frame() media.Frame {
	if h.s == nil {
		return media.Frame{}
	}
	return h.s.frame()
}

// Header decodes the slot's frame record as a foreign reader would see it.
func (h Handle) Header() (Header, bool) {
	if h.s == nil {
		return Header{}, false
	}
	return DecodeHeader(h.s.hdr)
}

// Addr returns the address of the slot's frame record, or 0 for the zero
// handle. The address is only meaningful to code that honours the slot
// validity window; it is not tracked by the garbage collector.
func (h Handle) Addr() uintptr {
	if h.s == nil || len(h.s.hdr) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&h.s.hdr[0]))
}
