// Package exchange multiplexes named frame rings, one per media track, and
// exposes them through a handle-based boundary usable from foreign callers.
package exchange

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zsiec/framexchange/internal/framering"
	"github.com/zsiec/framexchange/internal/notify"
	"github.com/zsiec/framexchange/media"
)

// ErrKeyNotFound is returned for operations on a key that was never
// initialized or has been freed.
var ErrKeyNotFound = errors.New("exchange: key not found")

// BufferStats describes one registered buffer, exposed via the debug API.
type BufferStats struct {
	Key       string `json:"key"`
	CreatedAt int64  `json:"createdAt"`
	framering.Stats
}

type buffer struct {
	ring      *framering.Ring
	createdAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithAllocator sets the allocator every new ring reserves its slots from.
func WithAllocator(a framering.Allocator) Option {
	return func(r *Registry) { r.alloc = a }
}

// Registry owns one frame ring per stream key. Its map is guarded by a lock
// that is never held while a ring operation blocks, so operations on
// unrelated keys do not wait on each other.
type Registry struct {
	log    *slog.Logger
	bridge *notify.Bridge
	alloc  framering.Allocator

	mu      sync.RWMutex
	buffers map[string]*buffer
}

// NewRegistry creates an empty registry that notifies through bridge after
// each successful push. A nil bridge gets a fresh uninitialized one; a nil
// log uses slog.Default().
func NewRegistry(log *slog.Logger, bridge *notify.Bridge, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if bridge == nil {
		bridge = notify.NewBridge(log)
	}
	r := &Registry{
		log:     log.With("component", "exchange-registry"),
		bridge:  bridge,
		buffers: make(map[string]*buffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bridge returns the notification bridge the registry signals through.
func (r *Registry) Bridge() *notify.Bridge { return r.bridge }

// Init creates a ring for key unless one already exists, in which case the
// existing ring is kept unchanged and Init succeeds. Arguments are checked
// either way.
func (r *Registry) Init(key string, capacity, maxFrameSize int) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", framering.ErrInvalidArgument)
	}
	if capacity <= 0 || maxFrameSize <= 0 {
		return fmt.Errorf("capacity %d, max frame size %d: %w", capacity, maxFrameSize, framering.ErrInvalidArgument)
	}
	if _, ok := r.lookup(key); ok {
		return nil
	}

	var opts []framering.Option
	if r.alloc != nil {
		opts = append(opts, framering.WithAllocator(r.alloc))
	}
	ring, err := framering.New(capacity, maxFrameSize, opts...)
	if err != nil {
		r.log.Warn("buffer init failed", "key", key, "capacity", capacity, "maxFrameSize", maxFrameSize, "error", err)
		return err
	}

	r.mu.Lock()
	if _, ok := r.buffers[key]; ok {
		r.mu.Unlock()
		ring.Close()
		return nil
	}
	r.buffers[key] = &buffer{ring: ring, createdAt: time.Now()}
	r.mu.Unlock()

	r.log.Info("buffer created", "key", key, "capacity", capacity, "maxFrameSize", maxFrameSize)
	return nil
}

func (r *Registry) lookup(key string) (*framering.Ring, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buffers[key]
	if !ok {
		return nil, false
	}
	return b.ring, true
}

func (r *Registry) ring(key string) (*framering.Ring, error) {
	ring, ok := r.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrKeyNotFound)
	}
	return ring, nil
}

// PushVideo copies a video frame into key's ring, blocking while it is full,
// then signals key's notification target.
func (r *Registry) PushVideo(key string, payload []byte, meta media.VideoMeta, ts uint64) (framering.Handle, error) {
	if len(payload) == 0 {
		return framering.Handle{}, fmt.Errorf("empty payload: %w", framering.ErrInvalidArgument)
	}
	ring, err := r.ring(key)
	if err != nil {
		return framering.Handle{}, err
	}
	h, err := ring.PushVideo(payload, meta, ts)
	if err != nil {
		return framering.Handle{}, err
	}
	r.notify(key)
	return h, nil
}

// PushAudio copies an audio frame into key's ring, blocking while it is full,
// then signals key's notification target.
func (r *Registry) PushAudio(key string, payload []byte, meta media.AudioMeta, ts uint64) (framering.Handle, error) {
	if len(payload) == 0 {
		return framering.Handle{}, fmt.Errorf("empty payload: %w", framering.ErrInvalidArgument)
	}
	ring, err := r.ring(key)
	if err != nil {
		return framering.Handle{}, err
	}
	h, err := ring.PushAudio(payload, meta, ts)
	if err != nil {
		return framering.Handle{}, err
	}
	r.notify(key)
	return h, nil
}

func (r *Registry) notify(key string) {
	if err := r.bridge.Notify(key); err != nil {
		r.log.Debug("frame notification skipped", "key", key, "error", err)
	}
}

// Pop removes the oldest frame from key's ring, blocking while it is empty.
func (r *Registry) Pop(key string) (framering.Handle, error) {
	ring, err := r.ring(key)
	if err != nil {
		return framering.Handle{}, err
	}
	return ring.Pop()
}

// PopInto removes the oldest frame from key's ring and copies it into dst.
func (r *Registry) PopInto(key string, dst *media.Frame) error {
	ring, err := r.ring(key)
	if err != nil {
		return err
	}
	return ring.PopInto(dst)
}

// LastWritten returns the most recently pushed slot of key's ring without
// consuming it.
func (r *Registry) LastWritten(key string) (framering.Handle, bool) {
	ring, ok := r.lookup(key)
	if !ok {
		return framering.Handle{}, false
	}
	return ring.LastWritten()
}

// LastHeader snapshots the header of key's most recent frame.
func (r *Registry) LastHeader(key string) (framering.Header, bool) {
	ring, ok := r.lookup(key)
	if !ok {
		return framering.Header{}, false
	}
	return ring.LastHeader()
}

// Len returns the number of unconsumed frames in key's ring.
func (r *Registry) Len(key string) (int, bool) {
	ring, ok := r.lookup(key)
	if !ok {
		return 0, false
	}
	return ring.Len(), true
}

// Free removes key, wakes any goroutine blocked on its ring with
// framering.ErrClosed, releases the slot memory and drops the notification
// target. Handles previously returned for key must not be used afterwards;
// foreign callers holding raw addresses must ensure Free happens after their
// last access. Free is a no-op for unknown keys.
func (r *Registry) Free(key string) {
	r.mu.Lock()
	b, ok := r.buffers[key]
	if ok {
		delete(r.buffers, key)
	}
	r.mu.Unlock()

	r.bridge.Unregister(key)
	if ok {
		b.ring.Close()
		r.log.Info("buffer freed", "key", key)
	}
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.buffers))
	for k := range r.buffers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Stat returns a snapshot of key's buffer.
func (r *Registry) Stat(key string) (BufferStats, bool) {
	r.mu.RLock()
	b, ok := r.buffers[key]
	r.mu.RUnlock()
	if !ok {
		return BufferStats{}, false
	}
	return BufferStats{Key: key, CreatedAt: b.createdAt.UnixMilli(), Stats: b.ring.Stats()}, true
}

// Stats returns snapshots of every buffer, sorted by key.
func (r *Registry) Stats() []BufferStats {
	r.mu.RLock()
	snap := make(map[string]*buffer, len(r.buffers))
	for k, b := range r.buffers {
		snap[k] = b
	}
	r.mu.RUnlock()

	out := make([]BufferStats, 0, len(snap))
	for k, b := range snap {
		out = append(out, BufferStats{Key: k, CreatedAt: b.createdAt.UnixMilli(), Stats: b.ring.Stats()})
	}
	slices.SortFunc(out, func(a, b BufferStats) int { return cmp.Compare(a.Key, b.Key) })
	return out
}

// Close frees every buffer.
func (r *Registry) Close() {
	for _, k := range r.Keys() {
		r.Free(k)
	}
}
