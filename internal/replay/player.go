// Package replay drives frame exchange buffers from recorded or generated
// media, standing in for a decoder callback that pushes frames as they are
// produced.
package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/internal/framering"
	"github.com/zsiec/framexchange/media"
)

// Sink accepts frames for a stream key. exchange.Registry satisfies it.
type Sink interface {
	PushVideo(key string, payload []byte, meta media.VideoMeta, ts uint64) (framering.Handle, error)
	PushAudio(key string, payload []byte, meta media.AudioMeta, ts uint64) (framering.Handle, error)
}

// Source yields frames in presentation order. Next returns io.EOF after the
// last frame; Rewind restarts from the first frame.
type Source interface {
	Next(dst *media.Frame) error
	Rewind() error
}

// Options control how a Player feeds its sink.
type Options struct {
	// Realtime sleeps between frames according to their timestamps.
	Realtime bool
	// Loop rewinds the source at EOF. Timestamps keep increasing across
	// iterations.
	Loop bool
}

// PlayerStats counts the frames a Player handled.
type PlayerStats struct {
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
	Loops   uint64 `json:"loops"`
	LastTS  uint64 `json:"lastTimestamp"`
}

// Player pushes every frame of a Source into a Sink under one key.
type Player struct {
	log  *slog.Logger
	sink Sink
	key  string
	src  Source
	opts Options

	pushed  atomic.Uint64
	dropped atomic.Uint64
	loops   atomic.Uint64
	lastTS  atomic.Uint64
}

// NewPlayer creates a Player. If log is nil, slog.Default() is used.
func NewPlayer(log *slog.Logger, sink Sink, key string, src Source, opts Options) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		log:  log.With("component", "replay", "key", key),
		sink: sink,
		key:  key,
		src:  src,
		opts: opts,
	}
}

// Stats returns a snapshot of the player's counters.
func (p *Player) Stats() PlayerStats {
	return PlayerStats{
		Pushed:  p.pushed.Load(),
		Dropped: p.dropped.Load(),
		Loops:   p.loops.Load(),
		LastTS:  p.lastTS.Load(),
	}
}

// Run pushes frames until the source is exhausted (without Loop), ctx is
// cancelled, or the sink's buffer is closed or freed. A push blocked on a full
// buffer is only released by a pop or by freeing the buffer.
func (p *Player) Run(ctx context.Context) error {
	var (
		f       media.Frame
		start   time.Time
		first   uint64 // source timestamp of the first frame
		base    uint64 // added to source timestamps, grows per loop
		prev    uint64
		lastDur uint64
		n       uint64
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := p.src.Next(&f)
		if errors.Is(err, io.EOF) {
			if !p.opts.Loop || n == 0 {
				p.log.Info("replay finished", "pushed", p.pushed.Load())
				return nil
			}
			if err := p.src.Rewind(); err != nil {
				return err
			}
			p.loops.Add(1)
			base = prev + max(lastDur, 1) - first
			continue
		}
		if err != nil {
			return err
		}

		if n == 0 {
			first = f.Timestamp
		}
		ts := f.Timestamp + base
		if n > 0 && ts > prev {
			lastDur = ts - prev
		}
		prev = ts
		n++

		if p.opts.Realtime {
			if start.IsZero() {
				start = time.Now()
			}
			var elapsed uint64
			if ts > first {
				elapsed = ts - first
			}
			due := start.Add(time.Duration(elapsed) * time.Microsecond)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		}

		if err := p.push(&f, ts); err != nil {
			if errors.Is(err, framering.ErrClosed) || errors.Is(err, exchange.ErrKeyNotFound) || ctx.Err() != nil {
				p.log.Info("replay stopped, buffer gone", "error", err)
				return nil
			}
			return err
		}
	}
}

func (p *Player) push(f *media.Frame, ts uint64) error {
	var err error
	if v, ok := f.Video(); ok {
		_, err = p.sink.PushVideo(p.key, f.Payload, v, ts)
	} else {
		a, _ := f.Audio()
		_, err = p.sink.PushAudio(p.key, f.Payload, a, ts)
	}

	switch {
	case err == nil:
		p.pushed.Add(1)
		p.lastTS.Store(ts)
		return nil
	case errors.Is(err, framering.ErrPayloadTooLarge), errors.Is(err, framering.ErrInvalidArgument):
		p.dropped.Add(1)
		p.log.Warn("frame dropped", "size", len(f.Payload), "ts", ts, "error", err)
		return nil
	default:
		return err
	}
}
