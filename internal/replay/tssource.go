package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"

	"github.com/zsiec/framexchange/internal/mpegts"
	"github.com/zsiec/framexchange/media"
)

const (
	ptsWrap      = int64(1) << 33
	samplesPerAU = 1024 // AAC frame length
)

type adtsFrame struct {
	ts   uint64
	data []byte
	meta media.AudioMeta
}

// TSSource yields the first H.264, H.265 or AAC stream of an MPEG transport
// stream. Video PES payloads are already Annex B access units and pass
// through unchanged; AAC payloads are split into ADTS frames, header
// included. Timestamps are microseconds since the first PTS.
type TSSource struct {
	rs   io.ReadSeeker
	kind media.Kind

	r          *mpegts.Reader
	pid        uint16
	streamType uint8
	primed     *mpegts.Unit

	video media.VideoMeta
	first int64
	prev  int64
	wrap  int64
	queue []adtsFrame
}

// NewTSSource scans rs until it finds an elementary stream of the given kind.
func NewTSSource(rs io.ReadSeeker, kind media.Kind) (*TSSource, error) {
	s := &TSSource{rs: rs, kind: kind}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TSSource) start() error {
	s.r = mpegts.NewReader(s.rs)
	s.first, s.prev, s.wrap = mpegts.NoTimestamp, 0, 0
	s.queue = s.queue[:0]
	s.primed = nil

	for {
		u, err := s.r.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("no %s stream found", s.kind)
		}
		if err != nil {
			return err
		}
		if s.pid == 0 && matchesKind(u.StreamType, s.kind) {
			s.pid, s.streamType = u.PID, u.StreamType
		}
		if u.PID == s.pid {
			s.primed = &u
			return nil
		}
	}
}

func matchesKind(streamType uint8, kind media.Kind) bool {
	switch streamType {
	case mpegts.StreamTypeH264, mpegts.StreamTypeH265:
		return kind == media.KindVideo
	case mpegts.StreamTypeAAC:
		return kind == media.KindAudio
	}
	return false
}

func (s *TSSource) unit() (mpegts.Unit, error) {
	if s.primed != nil {
		u := *s.primed
		s.primed = nil
		return u, nil
	}
	return s.r.Next()
}

// Next fills dst with the next frame.
func (s *TSSource) Next(dst *media.Frame) error {
	for {
		if len(s.queue) > 0 {
			f := s.queue[0]
			s.queue = s.queue[1:]
			dst.Payload = append(dst.Payload[:0], f.data...)
			dst.Timestamp = f.ts
			dst.SetAudio(f.meta)
			return nil
		}

		u, err := s.unit()
		if err != nil {
			return err
		}
		if u.PID != s.pid {
			continue
		}
		ts := s.micros(u.PTS)

		if s.kind == media.KindAudio {
			s.queue = appendADTS(s.queue, u.Data, ts)
			continue
		}

		key := s.inspectVideo(u.Data)
		v := s.video
		v.FrameType = media.FrameTypeDelta
		if key {
			v.FrameType = media.FrameTypeKey
		}
		dst.Payload = append(dst.Payload[:0], u.Data...)
		dst.Timestamp = ts
		dst.SetVideo(v)
		return nil
	}
}

// inspectVideo reports whether the access unit starts a GOP and picks up
// the picture size from an H.264 SPS.
func (s *TSSource) inspectVideo(au []byte) (key bool) {
	for _, nalu := range avc.ExtractNalusFromByteStream(au) {
		if len(nalu) == 0 {
			continue
		}
		if s.streamType == mpegts.StreamTypeH265 {
			if t := hevc.GetNaluType(nalu[0]); t >= 16 && t <= 23 {
				key = true
			}
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_IDR:
			key = true
		case avc.NALU_SPS:
			if sps, err := avc.ParseSPSNALUnit(nalu, false); err == nil {
				s.video.Width, s.video.Height = int(sps.Width), int(sps.Height)
			}
		}
	}
	return key
}

// micros unwraps the 33-bit PTS and converts it to microseconds since the
// first one. Units without a PTS reuse the previous timestamp.
func (s *TSSource) micros(pts int64) uint64 {
	if pts == mpegts.NoTimestamp {
		if s.first == mpegts.NoTimestamp {
			return 0
		}
		pts = s.prev - s.wrap
	}
	if s.first == mpegts.NoTimestamp {
		s.first = pts
		s.prev = pts
	}
	full := pts + s.wrap
	if full+ptsWrap/2 < s.prev {
		s.wrap += ptsWrap
		full += ptsWrap
	}
	s.prev = full
	if full <= s.first {
		return 0
	}
	return uint64(full-s.first) * 100 / 9
}

// appendADTS splits a PES payload into ADTS frames. Bytes before a sync word
// are skipped; a malformed or truncated tail is dropped.
func appendADTS(q []adtsFrame, data []byte, ts uint64) []adtsFrame {
	for off, i := 0, 0; off < len(data); i++ {
		hdr, skip, err := aac.DecodeADTSHeader(bytes.NewReader(data[off:]))
		if err != nil {
			break
		}
		off += skip
		n := int(hdr.HeaderLength) + int(hdr.PayloadLength)
		if n <= int(hdr.HeaderLength) || off+n > len(data) {
			break
		}
		rate := int(hdr.Frequency())
		f := adtsFrame{
			ts:   ts,
			data: data[off : off+n],
			meta: media.AudioMeta{SampleRate: rate, Channels: int(hdr.ChannelConfig)},
		}
		if rate > 0 {
			f.ts += uint64(i) * samplesPerAU * 1_000_000 / uint64(rate)
		}
		q = append(q, f)
		off += n
	}
	return q
}

// Rewind restarts from the beginning of the stream.
func (s *TSSource) Rewind() error {
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return s.start()
}
