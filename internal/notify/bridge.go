// Package notify wakes external consumers when a frame becomes available in
// a buffer. Delivery is best effort: a missing transport, an unknown key or a
// failed post never propagates to the producer that triggered it.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// FrameReady is the message posted to a target after each successful push.
const FrameReady int64 = 1

// ErrTransportUnavailable reports why a notification was not delivered. It is
// advisory only.
var ErrTransportUnavailable = errors.New("notify: transport unavailable")

// Transport delivers an integer message to an opaque 64-bit target, such as
// a foreign runtime's native message port.
type Transport interface {
	Post(target, message int64) bool
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(target, message int64) bool

// Post calls f(target, message).
func (f TransportFunc) Post(target, message int64) bool { return f(target, message) }

type transportBox struct{ t Transport }

// Bridge maps stream keys to notification targets.
type Bridge struct {
	log       *slog.Logger
	transport atomic.Pointer[transportBox]

	mu      sync.RWMutex
	targets map[string]int64

	posted  atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// NewBridge creates an uninitialized bridge. If log is nil, slog.Default() is used.
func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:     log.With("component", "notify-bridge"),
		targets: make(map[string]int64),
	}
}

// Initialize installs the transport. It returns false for a nil transport.
// Once a transport is installed later calls return true and keep it.
func (b *Bridge) Initialize(t Transport) bool {
	if t == nil {
		return false
	}
	if b.transport.CompareAndSwap(nil, &transportBox{t: t}) {
		b.log.Info("notification transport initialized")
	}
	return true
}

// Initialized reports whether a transport has been installed.
func (b *Bridge) Initialized() bool {
	return b.transport.Load() != nil
}

// Register maps key to target, replacing any earlier target. Targets must be
// positive.
func (b *Bridge) Register(key string, target int64) bool {
	if target <= 0 {
		return false
	}
	b.mu.Lock()
	prev, had := b.targets[key]
	b.targets[key] = target
	b.mu.Unlock()

	if had && prev != target {
		b.log.Debug("notification target replaced", "key", key, "old", prev, "new", target)
	}
	return true
}

// Unregister forgets key's target. It is a no-op for unknown keys.
func (b *Bridge) Unregister(key string) {
	b.mu.Lock()
	delete(b.targets, key)
	b.mu.Unlock()
}

// Target returns the target registered for key.
func (b *Bridge) Target(key string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.targets[key]
	return t, ok
}

// Notify posts FrameReady to key's target. The returned error only explains
// a skipped or failed delivery; callers are expected to ignore it beyond
// logging. Notify never panics and holds no lock while posting.
func (b *Bridge) Notify(key string) (err error) {
	box := b.transport.Load()
	if box == nil {
		b.skipped.Add(1)
		return ErrTransportUnavailable
	}

	target, ok := b.Target(key)
	if !ok {
		b.skipped.Add(1)
		return fmt.Errorf("%w: no target for %q", ErrTransportUnavailable, key)
	}

	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			err = fmt.Errorf("%w: post to %d panicked: %v", ErrTransportUnavailable, target, r)
		}
	}()
	if !box.t.Post(target, FrameReady) {
		b.failed.Add(1)
		return fmt.Errorf("%w: post to %d rejected", ErrTransportUnavailable, target)
	}
	b.posted.Add(1)
	return nil
}

// Stats is a snapshot of bridge activity.
type Stats struct {
	Initialized bool   `json:"initialized"`
	Targets     int    `json:"targets"`
	Posted      uint64 `json:"posted"`
	Skipped     uint64 `json:"skipped"`
	Failed      uint64 `json:"failed"`
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	n := len(b.targets)
	b.mu.RUnlock()

	return Stats{
		Initialized: b.Initialized(),
		Targets:     n,
		Posted:      b.posted.Load(),
		Skipped:     b.skipped.Load(),
		Failed:      b.failed.Load(),
	}
}
