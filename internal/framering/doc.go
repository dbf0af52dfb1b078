// Package framering implements a bounded, blocking ring of pre-allocated
// frame slots used to hand media frames from producers to consumers without
// per-frame allocation.
//
// A [Ring] owns capacity slots of a fixed byte size, all allocated up front
// by an [Allocator]. Producers call [Ring.PushVideo] or [Ring.PushAudio] and
// block while the ring is full; consumers call [Ring.Pop] or [Ring.PopInto]
// and block while it is empty. Ordering is strictly FIFO across any number of
// producers and consumers.
//
// Push and Pop return a [Handle], a borrowed, non-reference-counted view of
// the slot. A handle stays valid only until its slot is written again, which
// happens after capacity further pushes. Producers are never slowed down by
// consumers holding handles, so a late reader may observe overwritten
// content; [Handle.Stale] detects that after the fact. Go consumers that need
// a stable copy use [Ring.PopInto], which copies under the ring lock.
//
// Every slot begins with a fixed C-compatible header (see [HeaderSize]) so
// that [Handle.Addr] can be handed to foreign code as a pointer to a frame
// record:
//
//	offset  size  field
//	0       4     kind (0 video, 1 audio)
//	4       4     payload length
//	8       8     timestamp (µs)
//	16      4     width | sample rate
//	20      4     height | channels
//	24      4     rotation
//	28      4     frame type
//	32      8     payload address
//	40      8     write sequence
//
// All fields use the host byte order.
package framering
