package exchange

import (
	"log/slog"
	"sync"

	"github.com/zsiec/framexchange/internal/framering"
	"github.com/zsiec/framexchange/internal/notify"
	"github.com/zsiec/framexchange/media"
)

// Boundary adapts a Registry to the flat calling convention used across a C
// ABI: keys are strings, frames are returned as the address of their slot
// header, and every failure collapses to 0 or false. No panic escapes a
// Boundary method.
//
// A returned address points at a framering header record (see
// framering.HeaderSize) and stays valid until the ring wraps around onto
// that slot or the key is freed.
type Boundary struct {
	log *slog.Logger
	reg *Registry
}

// NewBoundary wraps reg. If log is nil, slog.Default() is used.
func NewBoundary(log *slog.Logger, reg *Registry) *Boundary {
	if log == nil {
		log = slog.Default()
	}
	return &Boundary{log: log.With("component", "exchange-boundary"), reg: reg}
}

var (
	defaultOnce     sync.Once
	defaultBoundary *Boundary
)

// Default returns the process-wide boundary, creating it on first use. Its
// slots are allocated off the Go heap where the platform allows.
func Default() *Boundary {
	defaultOnce.Do(func() {
		bridge := notify.NewBridge(nil)
		reg := NewRegistry(nil, bridge, WithAllocator(framering.OffHeapAllocator()))
		defaultBoundary = NewBoundary(nil, reg)
	})
	return defaultBoundary
}

// Registry returns the registry behind b.
func (b *Boundary) Registry() *Registry { return b.reg }

func (b *Boundary) guard(op, key string) {
	if r := recover(); r != nil {
		b.log.Error("boundary call panicked", "op", op, "key", key, "panic", r)
	}
}

// Init creates key's buffer. It reports false only for invalid arguments or
// allocation failure; an existing key is kept and reported as success.
func (b *Boundary) Init(key string, capacity, maxFrameSize int) (ok bool) {
	defer b.guard("init", key)
	return b.reg.Init(key, capacity, maxFrameSize) == nil
}

// PushVideo pushes a video frame and returns its slot address, or 0.
func (b *Boundary) PushVideo(key string, payload []byte, width, height int, ts uint64, rotation, frameType int) (addr uint64) {
	defer b.guard("pushVideo", key)
	meta := media.VideoMeta{Width: width, Height: height, Rotation: rotation, FrameType: frameType}
	h, err := b.reg.PushVideo(key, payload, meta, ts)
	if err != nil {
		b.log.Debug("video push failed", "key", key, "size", len(payload), "error", err)
		return 0
	}
	return uint64(h.Addr())
}

// PushAudio pushes an audio frame and returns its slot address, or 0.
func (b *Boundary) PushAudio(key string, payload []byte, sampleRate, channels int, ts uint64) (addr uint64) {
	defer b.guard("pushAudio", key)
	meta := media.AudioMeta{SampleRate: sampleRate, Channels: channels}
	h, err := b.reg.PushAudio(key, payload, meta, ts)
	if err != nil {
		b.log.Debug("audio push failed", "key", key, "size", len(payload), "error", err)
		return 0
	}
	return uint64(h.Addr())
}

// Pop blocks until key's buffer holds a frame and returns its slot address.
// It returns 0 for an unknown key or when the buffer is freed while waiting.
func (b *Boundary) Pop(key string) (addr uint64) {
	defer b.guard("pop", key)
	h, err := b.reg.Pop(key)
	if err != nil {
		return 0
	}
	return uint64(h.Addr())
}

// LastWritten returns the address of the most recently pushed slot without
// consuming it, or 0.
func (b *Boundary) LastWritten(key string) (addr uint64) {
	defer b.guard("lastWritten", key)
	h, ok := b.reg.LastWritten(key)
	if !ok {
		return 0
	}
	return uint64(h.Addr())
}

// Free releases key's buffer and notification target.
func (b *Boundary) Free(key string) {
	defer b.guard("free", key)
	b.reg.Free(key)
}

// RegisterNotificationTarget maps key to a foreign message port.
func (b *Boundary) RegisterNotificationTarget(key string, port int64) (ok bool) {
	defer b.guard("registerNotificationTarget", key)
	return b.reg.Bridge().Register(key, port)
}

// InitializeNotificationTransport binds the address of a foreign
// bool post(int64_t, int64_t) function as the notification transport. Once a
// transport is installed further calls succeed without rebinding.
func (b *Boundary) InitializeNotificationTransport(postFn uintptr) (ok bool) {
	defer b.guard("initializeNotificationTransport", "")
	bridge := b.reg.Bridge()
	if bridge.Initialized() {
		return true
	}
	t, err := notify.NewForeignTransport(postFn)
	if err != nil {
		b.log.Warn("notification transport unavailable", "error", err)
		return false
	}
	return bridge.Initialize(t)
}
