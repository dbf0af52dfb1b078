// Package framelog reads and writes frame captures: a magic prefix followed
// by one record per frame. Every integer is a QUIC variable-length integer.
//
//	record = kind ts meta0 meta1 meta2 meta3 len payload
//
// meta0..meta3 hold width, height, rotation and frame type for video, or
// sample rate and channels (then two zeros) for audio.
package framelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/framexchange/media"
)

// Magic opens every capture.
const Magic = "FXLOG\x01"

// DefaultMaxPayload bounds the payload length a Reader accepts.
const DefaultMaxPayload = 64 << 20

var (
	// ErrCorrupt is matched by every error caused by malformed input.
	ErrCorrupt = errors.New("framelog: corrupt capture")
	// ErrUnencodable is returned for frames whose fields cannot be encoded.
	ErrUnencodable = errors.New("framelog: frame not encodable")
)

// ParseError identifies the record field that failed to decode.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("framelog: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrCorrupt, e.Err}
}

// Writer appends frame records to an underlying writer.
type Writer struct {
	w      io.Writer
	buf    []byte
	frames uint64
}

// NewWriter writes the capture magic to w and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	if _, err := io.WriteString(w, Magic); err != nil {
		return nil, fmt.Errorf("write magic: %w", err)
	}
	return &Writer{w: w, buf: make([]byte, 0, 64)}, nil
}

// WriteFrame appends one record.
func (w *Writer) WriteFrame(f *media.Frame) error {
	meta, err := encodeMeta(f)
	if err != nil {
		return err
	}
	if f.Timestamp > quicvarint.Max {
		return fmt.Errorf("%w: timestamp %d", ErrUnencodable, f.Timestamp)
	}

	b := w.buf[:0]
	b = quicvarint.Append(b, uint64(f.Kind))
	b = quicvarint.Append(b, f.Timestamp)
	for _, m := range meta {
		b = quicvarint.Append(b, m)
	}
	b = quicvarint.Append(b, uint64(len(f.Payload)))
	w.buf = b

	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if _, err := w.w.Write(f.Payload); err != nil {
		return err
	}
	w.frames++
	return nil
}

// Frames returns the number of records written.
func (w *Writer) Frames() uint64 { return w.frames }

func encodeMeta(f *media.Frame) ([4]uint64, error) {
	var ints [4]int
	switch f.Kind {
	case media.KindVideo:
		v, _ := f.Video()
		ints = [4]int{v.Width, v.Height, v.Rotation, v.FrameType}
	case media.KindAudio:
		a, _ := f.Audio()
		ints = [4]int{a.SampleRate, a.Channels, 0, 0}
	default:
		return [4]uint64{}, fmt.Errorf("%w: kind %v", ErrUnencodable, f.Kind)
	}

	var out [4]uint64
	for i, n := range ints {
		if n < 0 || uint64(n) > quicvarint.Max {
			return out, fmt.Errorf("%w: metadata %d out of range", ErrUnencodable, n)
		}
		out[i] = uint64(n)
	}
	return out, nil
}

// Reader decodes frame records.
type Reader struct {
	br         *bufio.Reader
	maxPayload uint64
}

// NewReader checks the capture magic and returns a Reader. A maxPayload of 0
// selects DefaultMaxPayload.
func NewReader(r io.Reader, maxPayload int) (*Reader, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, &ParseError{Field: "magic", Err: err}
	}
	if string(magic) != Magic {
		return nil, &ParseError{Field: "magic", Err: fmt.Errorf("got %q", magic)}
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{br: br, maxPayload: uint64(maxPayload)}, nil
}

var metaFields = [4]string{"meta0", "meta1", "meta2", "meta3"}

// ReadFrame decodes the next record into dst, reusing dst.Payload. It
// returns io.EOF when the capture ends on a record boundary.
func (r *Reader) ReadFrame(dst *media.Frame) error {
	kind, err := quicvarint.Read(r.br)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return &ParseError{Field: "kind", Err: err}
	}
	if kind > uint64(media.KindAudio) {
		return &ParseError{Field: "kind", Err: fmt.Errorf("unknown kind %d", kind)}
	}

	ts, err := r.varint("timestamp")
	if err != nil {
		return err
	}
	var meta [4]int
	for i, name := range metaFields {
		v, err := r.varint(name)
		if err != nil {
			return err
		}
		meta[i] = int(v)
	}
	n, err := r.varint("length")
	if err != nil {
		return err
	}
	if n > r.maxPayload {
		return &ParseError{Field: "length", Err: fmt.Errorf("payload %d exceeds limit %d", n, r.maxPayload)}
	}

	if uint64(cap(dst.Payload)) < n {
		dst.Payload = make([]byte, n)
	}
	dst.Payload = dst.Payload[:n]
	if _, err := io.ReadFull(r.br, dst.Payload); err != nil {
		return &ParseError{Field: "payload", Err: noEOF(err)}
	}

	dst.Timestamp = ts
	if media.Kind(kind) == media.KindAudio {
		dst.SetAudio(media.AudioMeta{SampleRate: meta[0], Channels: meta[1]})
	} else {
		dst.SetVideo(media.VideoMeta{Width: meta[0], Height: meta[1], Rotation: meta[2], FrameType: meta[3]})
	}
	return nil
}

func (r *Reader) varint(field string) (uint64, error) {
	v, err := quicvarint.Read(r.br)
	if err != nil {
		return 0, &ParseError{Field: field, Err: noEOF(err)}
	}
	return v, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
