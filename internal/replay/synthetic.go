package replay

import (
	"fmt"
	"io"
	"time"

	"github.com/zsiec/framexchange/media"
)

// SyntheticSource generates fixed-size frames at a constant interval. Video
// frames are keyframes every GOP frames and delta frames otherwise.
type SyntheticSource struct {
	kind     media.Kind
	size     int
	interval time.Duration
	count    int
	video    media.VideoMeta
	audio    media.AudioMeta
	gop      int

	n int
}

// SyntheticConfig describes the frames a SyntheticSource produces. A Count
// of 0 produces frames forever.
type SyntheticConfig struct {
	Kind     media.Kind
	Size     int
	Interval time.Duration
	Count    int
	Video    media.VideoMeta
	Audio    media.AudioMeta
	GOP      int
}

// NewSyntheticSource validates cfg and returns a source.
func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("synthetic source: size %d must be positive", cfg.Size)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("synthetic source: interval %v must be positive", cfg.Interval)
	}
	if cfg.Kind == media.KindVideo && !media.ValidRotation(cfg.Video.Rotation) {
		return nil, fmt.Errorf("synthetic source: rotation %d", cfg.Video.Rotation)
	}
	if cfg.GOP <= 0 {
		cfg.GOP = 30
	}
	return &SyntheticSource{
		kind:     cfg.Kind,
		size:     cfg.Size,
		interval: cfg.Interval,
		count:    cfg.Count,
		video:    cfg.Video,
		audio:    cfg.Audio,
		gop:      cfg.GOP,
	}, nil
}

// Next fills dst with the next frame. Each payload byte is the frame index
// modulo 256 so consumers can spot torn or stale reads.
func (s *SyntheticSource) Next(dst *media.Frame) error {
	if s.count > 0 && s.n >= s.count {
		return io.EOF
	}

	if cap(dst.Payload) < s.size {
		dst.Payload = make([]byte, s.size)
	}
	dst.Payload = dst.Payload[:s.size]
	fill := byte(s.n)
	for i := range dst.Payload {
		dst.Payload[i] = fill
	}
	dst.Timestamp = uint64(s.n) * uint64(s.interval/time.Microsecond)

	if s.kind == media.KindAudio {
		dst.SetAudio(s.audio)
	} else {
		v := s.video
		v.FrameType = media.FrameTypeDelta
		if s.n%s.gop == 0 {
			v.FrameType = media.FrameTypeKey
		}
		dst.SetVideo(v)
	}
	s.n++
	return nil
}

// Rewind restarts the sequence.
func (s *SyntheticSource) Rewind() error {
	s.n = 0
	return nil
}
