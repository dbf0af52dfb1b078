// Package media defines the frame types exchanged between media producers
// (decoder callbacks) and consumers reading from a frame exchange buffer.
package media

import "fmt"

// Slot sizing used when a producer initializes its buffer lazily on the first
// decoded frame: ten slots large enough for a 1080p keyframe plus headroom.
const (
	DefaultCapacity     = 10
	DefaultMaxFrameSize = 2*1024*1024 + 256
)

// Kind tags which metadata variant a Frame carries.
type Kind uint8

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps "video" / "audio" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "video":
		return KindVideo, nil
	case "audio":
		return KindAudio, nil
	default:
		return 0, fmt.Errorf("unknown media kind %q", s)
	}
}

// Encoded image frame types, matching the ordinal the platform decoder
// reports. The exchange buffer treats FrameType as opaque.
const (
	FrameTypeEmpty = 0
	FrameTypeKey   = 1
	FrameTypeDelta = 2
)

// VideoMeta describes one video access unit.
type VideoMeta struct {
	Width     int
	Height    int
	Rotation  int // degrees clockwise: 0, 90, 180 or 270
	FrameType int
}

// ValidRotation reports whether deg is one of the four supported rotations.
func ValidRotation(deg int) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// AudioMeta describes one audio frame.
type AudioMeta struct {
	SampleRate int
	Channels   int
}

// Frame is a single video or audio frame. Timestamp is the capture or
// presentation time in microseconds assigned by the producer.
//
// A Frame obtained from a ring handle is a borrowed view: Payload aliases
// ring-owned memory and is only valid until that slot is written again.
type Frame struct {
	Kind      Kind
	Timestamp uint64
	Payload   []byte

	video VideoMeta
	audio AudioMeta
}

// NewVideoFrame builds a video frame around payload (not copied).
func NewVideoFrame(payload []byte, meta VideoMeta, ts uint64) Frame {
	return Frame{Kind: KindVideo, Timestamp: ts, Payload: payload, video: meta}
}

// NewAudioFrame builds an audio frame around payload (not copied).
func NewAudioFrame(payload []byte, meta AudioMeta, ts uint64) Frame {
	return Frame{Kind: KindAudio, Timestamp: ts, Payload: payload, audio: meta}
}

// Video returns the video metadata, or false if f is not a video frame.
func (f *Frame) Video() (VideoMeta, bool) {
	if f.Kind != KindVideo {
		return VideoMeta{}, false
	}
	return f.video, true
}

// Audio returns the audio metadata, or false if f is not an audio frame.
func (f *Frame) Audio() (AudioMeta, bool) {
	if f.Kind != KindAudio {
		return AudioMeta{}, false
	}
	return f.audio, true
}

// SetVideo retags f as a video frame carrying meta.
func (f *Frame) SetVideo(meta VideoMeta) {
	f.Kind = KindVideo
	f.video = meta
	f.audio = AudioMeta{}
}

// SetAudio retags f as an audio frame carrying meta.
func (f *Frame) SetAudio(meta AudioMeta) {
	f.Kind = KindAudio
	f.audio = meta
	f.video = VideoMeta{}
}

// CopyFrom deep-copies src into f, reusing f.Payload's backing array when it
// is large enough.
func (f *Frame) CopyFrom(src *Frame) {
	f.Kind = src.Kind
	f.Timestamp = src.Timestamp
	f.video = src.video
	f.audio = src.audio
	f.Payload = append(f.Payload[:0], src.Payload...)
}
