package replay

import (
	"fmt"
	"io"

	"github.com/zsiec/framexchange/internal/framelog"
	"github.com/zsiec/framexchange/media"
)

// LogSource replays a framelog capture.
type LogSource struct {
	rs         io.ReadSeeker
	maxPayload int
	r          *framelog.Reader
}

// NewLogSource opens a capture. Records with payloads above maxPayload are
// rejected as corrupt; 0 selects framelog.DefaultMaxPayload.
func NewLogSource(rs io.ReadSeeker, maxPayload int) (*LogSource, error) {
	s := &LogSource{rs: rs, maxPayload: maxPayload}
	if err := s.Rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

// Next decodes the next captured frame into dst.
func (s *LogSource) Next(dst *media.Frame) error {
	return s.r.ReadFrame(dst)
}

// Rewind seeks back to the start of the capture.
func (s *LogSource) Rewind() error {
	if _, err := s.rs.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind capture: %w", err)
	}
	r, err := framelog.NewReader(s.rs, s.maxPayload)
	if err != nil {
		return err
	}
	s.r = r
	return nil
}
