package replay

import (
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/zsiec/framexchange/media"
)

type sampleRef struct {
	ts   uint64 // microseconds
	sync bool

	data []byte // fragmented files: decoded with the fragment

	offset uint64 // progressive files: read on demand
	size   uint32
}

// MP4Source yields the samples of the first video or audio track of an MP4
// file, fragmented or progressive. H.264 samples are converted to Annex B
// with SPS/PPS prepended to sync samples, which is what a hardware decoder
// callback hands over.
type MP4Source struct {
	rs        io.ReadSeeker
	kind      media.Kind
	video     media.VideoMeta
	audio     media.AudioMeta
	annexB    bool
	paramSets []byte

	samples []sampleRef
	next    int
	scratch []byte
}

// NewMP4Source parses rs and indexes the samples of its first track of the
// given kind.
func NewMP4Source(rs io.ReadSeeker, kind media.Kind) (*MP4Source, error) {
	f, err := mp4.DecodeFile(rs)
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}

	var traks []*mp4.TrakBox
	fragmented := f.IsFragmented()
	switch {
	case fragmented && f.Init != nil && f.Init.Moov != nil:
		traks = f.Init.Moov.Traks
	case !fragmented && f.Moov != nil:
		traks = f.Moov.Traks
	default:
		return nil, errors.New("no moov box found")
	}

	handler := "vide"
	if kind == media.KindAudio {
		handler = "soun"
	}
	var trak *mp4.TrakBox
	for _, t := range traks {
		if t.Mdia != nil && t.Mdia.Hdlr != nil && t.Mdia.Hdlr.HandlerType == handler {
			trak = t
			break
		}
	}
	if trak == nil {
		return nil, fmt.Errorf("no %s track found", kind)
	}
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return nil, errors.New("no sample table found")
	}

	timescale := uint32(1000)
	if trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
		timescale = trak.Mdia.Mdhd.Timescale
	}

	s := &MP4Source{rs: rs, kind: kind}
	s.describe(trak.Mdia.Minf.Stbl)

	if fragmented {
		s.samples, err = fragmentSamples(f, trak.Tkhd.TrackID, timescale)
	} else {
		s.samples, err = progressiveSamples(trak.Mdia.Minf.Stbl, timescale)
	}
	if err != nil {
		return nil, err
	}
	if len(s.samples) == 0 {
		return nil, fmt.Errorf("%s track has no samples", kind)
	}
	return s, nil
}

// describe reads frame metadata from the first matching sample entry.
func (s *MP4Source) describe(stbl *mp4.StblBox) {
	if stbl.Stsd == nil {
		return
	}
	for _, child := range stbl.Stsd.Children {
		switch e := child.(type) {
		case *mp4.VisualSampleEntryBox:
			s.video.Width = int(e.Width)
			s.video.Height = int(e.Height)
			if e.AvcC != nil {
				s.annexB = true
				for _, sps := range e.AvcC.SPSnalus {
					s.paramSets = append(s.paramSets, 0, 0, 0, 1)
					s.paramSets = append(s.paramSets, sps...)
				}
				for _, pps := range e.AvcC.PPSnalus {
					s.paramSets = append(s.paramSets, 0, 0, 0, 1)
					s.paramSets = append(s.paramSets, pps...)
				}
			}
			return
		case *mp4.AudioSampleEntryBox:
			s.audio.SampleRate = int(e.SampleRate)
			s.audio.Channels = int(e.ChannelCount)
			return
		}
	}
}

func toMicros(t uint64, timescale uint32) uint64 {
	return t * 1_000_000 / uint64(timescale)
}

func fragmentSamples(f *mp4.File, trackID, timescale uint32) ([]sampleRef, error) {
	var trex *mp4.TrexBox
	if mvex := f.Init.Moov.Mvex; mvex != nil {
		for _, t := range mvex.Trexs {
			if t.TrackID == trackID {
				trex = t
				break
			}
		}
	}

	var refs []sampleRef
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil || !hasTrack(frag.Moof, trackID) {
				continue
			}
			full, err := frag.GetFullSamples(trex)
			if err != nil {
				return nil, fmt.Errorf("get samples: %w", err)
			}
			for _, fs := range full {
				refs = append(refs, sampleRef{
					ts:   toMicros(fs.DecodeTime, timescale),
					sync: !mp4.DecodeSampleFlags(fs.Flags).SampleIsNonSync,
					data: fs.Data,
				})
			}
		}
	}
	return refs, nil
}

func hasTrack(moof *mp4.MoofBox, trackID uint32) bool {
	for _, traf := range moof.Trafs {
		if traf.Tfhd != nil && traf.Tfhd.TrackID == trackID {
			return true
		}
	}
	return false
}

func progressiveSamples(stbl *mp4.StblBox, timescale uint32) ([]sampleRef, error) {
	if stbl.Stsz == nil || stbl.Stsc == nil {
		return nil, errors.New("missing stsz or stsc box")
	}
	if stbl.Stco == nil && stbl.Co64 == nil {
		return nil, errors.New("no stco or co64 box")
	}

	var syncSamples map[uint32]bool
	if stbl.Stss != nil {
		syncSamples = make(map[uint32]bool, len(stbl.Stss.SampleNumber))
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	count := stbl.Stsz.SampleNumber
	refs := make([]sampleRef, 0, count)
	for nr := uint32(1); nr <= count; nr++ {
		chunkNr, firstInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
		if err != nil {
			return nil, fmt.Errorf("sample %d: chunk: %w", nr, err)
		}

		var offset uint64
		if stbl.Stco != nil {
			offset, err = stbl.Stco.GetOffset(chunkNr)
			if err != nil {
				return nil, fmt.Errorf("sample %d: chunk offset: %w", nr, err)
			}
		} else {
			if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
				return nil, fmt.Errorf("sample %d: chunk %d out of range", nr, chunkNr)
			}
			offset = stbl.Co64.ChunkOffset[chunkNr-1]
		}
		for s := uint32(firstInChunk); s < nr; s++ {
			offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
		}

		var decodeTime uint64
		if stbl.Stts != nil {
			decodeTime, _ = stbl.Stts.GetDecodeTime(nr)
		}
		refs = append(refs, sampleRef{
			ts:     toMicros(decodeTime, timescale),
			sync:   syncSamples == nil || syncSamples[nr],
			offset: offset,
			size:   stbl.Stsz.GetSampleSize(int(nr)),
		})
	}
	return refs, nil
}

// Next fills dst with the next sample.
func (s *MP4Source) Next(dst *media.Frame) error {
	if s.next >= len(s.samples) {
		return io.EOF
	}
	ref := s.samples[s.next]
	s.next++

	raw := ref.data
	if raw == nil {
		var err error
		if raw, err = s.read(ref); err != nil {
			return err
		}
	}

	out := dst.Payload[:0]
	if s.annexB {
		if ref.sync {
			out = append(out, s.paramSets...)
		}
		out = appendAnnexB(out, raw)
	} else {
		out = append(out, raw...)
	}
	dst.Payload = out
	dst.Timestamp = ref.ts

	if s.kind == media.KindAudio {
		dst.SetAudio(s.audio)
	} else {
		v := s.video
		v.FrameType = media.FrameTypeDelta
		if ref.sync {
			v.FrameType = media.FrameTypeKey
		}
		dst.SetVideo(v)
	}
	return nil
}

func (s *MP4Source) read(ref sampleRef) ([]byte, error) {
	if _, err := s.rs.Seek(int64(ref.offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to sample: %w", err)
	}
	if cap(s.scratch) < int(ref.size) {
		s.scratch = make([]byte, ref.size)
	}
	s.scratch = s.scratch[:ref.size]
	if _, err := io.ReadFull(s.rs, s.scratch); err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return s.scratch, nil
}

// Rewind restarts from the first sample.
func (s *MP4Source) Rewind() error {
	s.next = 0
	return nil
}

// Len returns the number of samples in the track.
func (s *MP4Source) Len() int { return len(s.samples) }

// appendAnnexB converts length-prefixed NAL units to start-code prefixed
// ones. A truncated trailing unit is dropped.
func appendAnnexB(dst, avcc []byte) []byte {
	for off := 0; off+4 <= len(avcc); {
		n := int(avcc[off])<<24 | int(avcc[off+1])<<16 | int(avcc[off+2])<<8 | int(avcc[off+3])
		off += 4
		if n < 0 || off+n > len(avcc) {
			break
		}
		dst = append(dst, 0, 0, 0, 1)
		dst = append(dst, avcc[off:off+n]...)
		off += n
	}
	return dst
}
