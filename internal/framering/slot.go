package framering

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/zsiec/framexchange/media"
)

// HeaderSize is the size of the fixed frame record at the start of every
// slot. The payload follows immediately after it.
const HeaderSize = 48

const (
	offKind        = 0
	offLength      = 4
	offTimestamp   = 8
	offMeta0       = 16 // width | sample rate
	offMeta1       = 20 // height | channels
	offRotation    = 24
	offFrameType   = 28
	offPayloadAddr = 32
	offSeq         = 40
)

// slot is one pre-allocated frame record. All fields except seq are guarded
// by the owning ring's mutex.
type slot struct {
	mem     []byte // allocator block, kept verbatim for Free
	hdr     []byte
	payload []byte

	n     int
	kind  media.Kind
	ts    uint64
	video media.VideoMeta
	audio media.AudioMeta

	seq atomic.Uint64
}

func (s *slot) init(mem []byte, maxFrameSize int) {
	s.mem = mem
	s.hdr = mem[:HeaderSize:HeaderSize]
	s.payload = mem[HeaderSize : HeaderSize+maxFrameSize : HeaderSize+maxFrameSize]
	binary.NativeEndian.PutUint64(s.hdr[offPayloadAddr:], uint64(uintptr(unsafe.Pointer(&s.payload[0]))))
}

func (s *slot) release(a Allocator) {
	if s.mem == nil {
		return
	}
	a.Free(s.mem)
	s.mem, s.hdr, s.payload = nil, nil, nil
	s.n = 0
}

// write overwrites the whole record. The caller has already checked that
// payload fits.
func (s *slot) write(payload []byte, kind media.Kind, v media.VideoMeta, a media.AudioMeta, ts, seq uint64) {
	s.n = copy(s.payload, payload)
	s.kind = kind
	s.ts = ts
	s.video = v
	s.audio = a

	h := s.hdr
	binary.NativeEndian.PutUint32(h[offKind:], uint32(kind))
	binary.NativeEndian.PutUint32(h[offLength:], uint32(s.n))
	binary.NativeEndian.PutUint64(h[offTimestamp:], ts)
	if kind == media.KindVideo {
		binary.NativeEndian.PutUint32(h[offMeta0:], uint32(int32(v.Width)))
		binary.NativeEndian.PutUint32(h[offMeta1:], uint32(int32(v.Height)))
		binary.NativeEndian.PutUint32(h[offRotation:], uint32(int32(v.Rotation)))
		binary.NativeEndian.PutUint32(h[offFrameType:], uint32(int32(v.FrameType)))
	} else {
		binary.NativeEndian.PutUint32(h[offMeta0:], uint32(int32(a.SampleRate)))
		binary.NativeEndian.PutUint32(h[offMeta1:], uint32(int32(a.Channels)))
		binary.NativeEndian.PutUint32(h[offRotation:], 0)
		binary.NativeEndian.PutUint32(h[offFrameType:], 0)
	}
	binary.NativeEndian.PutUint64(h[offSeq:], seq)
	s.seq.Store(seq)
}

// frame returns a borrowed view of the record.
func (s *slot) frame() media.Frame {
	if s.payload == nil {
		return media.Frame{}
	}
	if s.kind == media.KindAudio {
		return media.NewAudioFrame(s.payload[:s.n], s.audio, s.ts)
	}
	return media.NewVideoFrame(s.payload[:s.n], s.video, s.ts)
}

// Header is the decoded form of a slot's frame record, i.e. what a foreign
// reader sees when it dereferences a handle address.
type Header struct {
	Kind        media.Kind
	Length      int
	Timestamp   uint64
	Meta        [4]int32 // width, height, rotation, frame type | sample rate, channels, 0, 0
	PayloadAddr uintptr
	Seq         uint64
}

// DecodeHeader parses a frame record. b must hold at least HeaderSize bytes.
func DecodeHeader(b []byte) (Header, bool) {
	if len(b) < HeaderSize {
		return Header{}, false
	}
	h := Header{
		Kind:        media.Kind(binary.NativeEndian.Uint32(b[offKind:])),
		Length:      int(binary.NativeEndian.Uint32(b[offLength:])),
		Timestamp:   binary.NativeEndian.Uint64(b[offTimestamp:]),
		PayloadAddr: uintptr(binary.NativeEndian.Uint64(b[offPayloadAddr:])),
		Seq:         binary.NativeEndian.Uint64(b[offSeq:]),
	}
	for i, off := range [4]int{offMeta0, offMeta1, offRotation, offFrameType} {
		h.Meta[i] = int32(binary.NativeEndian.Uint32(b[off:]))
	}
	return h, true
}
