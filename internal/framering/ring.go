package framering

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/zsiec/framexchange/media"
)

// Option configures a Ring.
type Option func(*Ring)

// WithAllocator sets the allocator used for slot memory. The default keeps
// slots on the Go heap.
func WithAllocator(a Allocator) Option {
	return func(r *Ring) {
		if a != nil {
			r.alloc = a
		}
	}
}

// Ring is a fixed-capacity circular buffer of frame slots with blocking
// push and pop. One mutex guards the cursors; producers wait on notFull and
// consumers on notEmpty.
type Ring struct {
	alloc        Allocator
	capacity     int
	maxFrameSize int

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	slots    []slot
	write    int
	read     int
	count    int
	last     int // index of the most recent write, -1 before the first
	seq      uint64
	closed   bool

	pushed        atomic.Uint64
	popped        atomic.Uint64
	oversize      atomic.Uint64
	producerWaits atomic.Uint64
	consumerWaits atomic.Uint64
	lastTS        atomic.Uint64
}

// New allocates a ring of capacity slots, each able to hold maxFrameSize
// payload bytes. If any slot cannot be allocated, every slot allocated so far
// is released and ErrAllocationFailed is returned.
func New(capacity, maxFrameSize int, opts ...Option) (*Ring, error) {
	if capacity <= 0 || maxFrameSize <= 0 {
		return nil, fmt.Errorf("capacity %d, max frame size %d: %w", capacity, maxFrameSize, ErrInvalidArgument)
	}
	if uint64(maxFrameSize) > math.MaxUint32 || maxFrameSize > math.MaxInt-HeaderSize {
		return nil, fmt.Errorf("max frame size %d: %w", maxFrameSize, ErrAllocationFailed)
	}

	r := &Ring{
		alloc:        defaultAllocator,
		capacity:     capacity,
		maxFrameSize: maxFrameSize,
		last:         -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)

	r.slots = make([]slot, capacity)
	for i := range r.slots {
		mem, err := r.alloc.Alloc(HeaderSize + maxFrameSize)
		if err != nil {
			for j := 0; j < i; j++ {
				r.slots[j].release(r.alloc)
			}
			return nil, fmt.Errorf("%w: slot %d of %d: %v", ErrAllocationFailed, i, capacity, err)
		}
		r.slots[i].init(mem, maxFrameSize)
	}
	return r, nil
}

// Capacity returns the number of slots.
func (r *Ring) Capacity() int { return r.capacity }

// MaxFrameSize returns the per-slot payload capacity in bytes.
func (r *Ring) MaxFrameSize() int { return r.maxFrameSize }

// Len returns the number of written, not yet popped frames.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// PushVideo copies a video frame into the next free slot, blocking while the
// ring is full. Oversized payloads and invalid rotations are rejected before
// any lock is taken.
func (r *Ring) PushVideo(payload []byte, meta media.VideoMeta, ts uint64) (Handle, error) {
	if !media.ValidRotation(meta.Rotation) {
		return Handle{}, ErrInvalidArgument
	}
	return r.push(payload, media.KindVideo, meta, media.AudioMeta{}, ts)
}

// PushAudio copies an audio frame into the next free slot, blocking while
// the ring is full.
func (r *Ring) PushAudio(payload []byte, meta media.AudioMeta, ts uint64) (Handle, error) {
	return r.push(payload, media.KindAudio, media.VideoMeta{}, meta, ts)
}

func (r *Ring) push(payload []byte, kind media.Kind, v media.VideoMeta, a media.AudioMeta, ts uint64) (Handle, error) {
	if len(payload) > r.maxFrameSize {
		r.oversize.Add(1)
		return Handle{}, ErrPayloadTooLarge
	}

	r.mu.Lock()
	if r.count == r.capacity && !r.closed {
		r.producerWaits.Add(1)
		for r.count == r.capacity && !r.closed {
			r.notFull.Wait()
		}
	}
	if r.closed {
		r.mu.Unlock()
		return Handle{}, ErrClosed
	}

	s := &r.slots[r.write]
	r.seq++
	s.write(payload, kind, v, a, ts, r.seq)
	h := Handle{s: s, seq: r.seq}
	r.last = r.write
	r.write = (r.write + 1) % r.capacity
	r.count++
	r.pushed.Add(1)
	r.lastTS.Store(ts)
	r.mu.Unlock()

	r.notEmpty.Signal()
	return h, nil
}

// Pop removes the oldest frame, blocking while the ring is empty. The
// returned handle borrows the slot until it is overwritten by a later push.
func (r *Ring) Pop() (Handle, error) {
	r.mu.Lock()
	s, err := r.take()
	if err != nil {
		r.mu.Unlock()
		return Handle{}, err
	}
	h := Handle{s: s, seq: s.seq.Load()}
	r.popped.Add(1)
	r.mu.Unlock()

	r.notFull.Signal()
	return h, nil
}

// PopInto removes the oldest frame and copies it into dst before the slot
// can be reused, blocking while the ring is empty. dst.Payload is reused
// when its capacity allows.
func (r *Ring) PopInto(dst *media.Frame) error {
	r.mu.Lock()
	s, err := r.take()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	f := s.frame()
	dst.CopyFrom(&f)
	r.popped.Add(1)
	r.mu.Unlock()

	r.notFull.Signal()
	return nil
}

// take waits for a live slot and advances the read cursor. r.mu must be held.
func (r *Ring) take() (*slot, error) {
	if r.count == 0 && !r.closed {
		r.consumerWaits.Add(1)
		for r.count == 0 && !r.closed {
			r.notEmpty.Wait()
		}
	}
	if r.closed {
		return nil, ErrClosed
	}

	s := &r.slots[r.read]
	r.read = (r.read + 1) % r.capacity
	r.count--
	return s, nil
}

// LastWritten returns the slot of the most recent successful push without
// consuming it. It reports false if the ring has never been written.
func (r *Ring) LastWritten() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last < 0 || r.closed {
		return Handle{}, false
	}
	s := &r.slots[r.last]
	return Handle{s: s, seq: s.seq.Load()}, true
}

// LastHeader decodes the header of the most recent successful push under
// the ring lock, so it cannot observe a concurrent write or a released slot.
func (r *Ring) LastHeader() (Header, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last < 0 || r.closed {
		return Header{}, false
	}
	return DecodeHeader(r.slots[r.last].hdr)
}

// Close wakes every blocked producer and consumer with ErrClosed and
// releases the slot memory. Handles obtained earlier must not be used
// afterwards. Close is idempotent.
func (r *Ring) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for i := range r.slots {
		r.slots[i].release(r.alloc)
	}
	r.count = 0
	r.mu.Unlock()

	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
}

// Stats is a point-in-time snapshot of ring occupancy and counters.
type Stats struct {
	Capacity      int    `json:"capacity"`
	MaxFrameSize  int    `json:"maxFrameSize"`
	Live          int    `json:"live"`
	Pushed        uint64 `json:"pushed"`
	Popped        uint64 `json:"popped"`
	Oversize      uint64 `json:"oversize"`
	ProducerWaits uint64 `json:"producerWaits"`
	ConsumerWaits uint64 `json:"consumerWaits"`
	LastTimestamp uint64 `json:"lastTimestamp"`
	Closed        bool   `json:"closed"`
}

// Stats returns a snapshot of the ring's state.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	live, closed := r.count, r.closed
	r.mu.Unlock()

	return Stats{
		Capacity:      r.capacity,
		MaxFrameSize:  r.maxFrameSize,
		Live:          live,
		Pushed:        r.pushed.Load(),
		Popped:        r.popped.Load(),
		Oversize:      r.oversize.Load(),
		ProducerWaits: r.producerWaits.Load(),
		ConsumerWaits: r.consumerWaits.Load(),
		LastTimestamp: r.lastTS.Load(),
		Closed:        closed,
	}
}
