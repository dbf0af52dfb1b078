package mpegts

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	pmtPID        = 0x1000
	programNumber = 1
	// tables are repeated every tableInterval units so a reader can join
	// mid-stream.
	tableInterval = 64
)

// Writer multiplexes units of a fixed set of elementary streams into a
// single-program transport stream. The first stream carries the PCR.
type Writer struct {
	w       io.Writer
	streams []Stream
	cc      map[uint16]uint8
	units   int
	pkt     [PacketSize]byte
}

// NewWriter returns a Writer for streams. It fails without streams.
func NewWriter(w io.Writer, streams ...Stream) (*Writer, error) {
	if len(streams) == 0 {
		return nil, errors.New("mpegts: writer needs at least one stream")
	}
	return &Writer{w: w, streams: streams, cc: make(map[uint16]uint8)}, nil
}

// WriteUnit writes data as one PES packet on pid with the given 90 kHz PTS,
// which is wrapped to 33 bits.
func (w *Writer) WriteUnit(pid uint16, pts int64, data []byte) error {
	streamID := byte(0)
	for _, s := range w.streams {
		if s.PID == pid {
			streamID = pesStreamID(s.Type)
		}
	}
	if streamID == 0 {
		return errors.New("mpegts: unit for an unannounced PID")
	}

	if w.units%tableInterval == 0 {
		if err := w.writeTables(); err != nil {
			return err
		}
	}
	w.units++

	pts = max(pts, 0) & (1<<33 - 1)
	pcr := NoTimestamp
	if pid == w.streams[0].PID {
		pcr = pts
	}
	return w.packetize(pid, pesPacket(streamID, pts, data), pcr)
}

func pesStreamID(streamType uint8) byte {
	if streamType == StreamTypeAAC {
		return 0xC0
	}
	return 0xE0
}

func pesPacket(streamID byte, pts int64, data []byte) []byte {
	b := make([]byte, 14, 14+len(data))
	b[2] = 1
	b[3] = streamID
	if n := 8 + len(data); n <= 0xFFFF {
		binary.BigEndian.PutUint16(b[4:], uint16(n))
	}
	b[6] = 0x80
	b[7] = 0x80 // PTS only
	b[8] = 5
	b[9] = 0x21 | byte(pts>>29)&0x0E
	b[10] = byte(pts >> 22)
	b[11] = byte(pts>>14)&0xFE | 1
	b[12] = byte(pts >> 7)
	b[13] = byte(pts<<1) | 1
	return append(b, data...)
}

func (w *Writer) writeTables() error {
	pat := []byte{
		tableIDPAT, 0xB0, 13,
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, programNumber, 0xE0 | pmtPID>>8, pmtPID & 0xFF,
	}
	if err := w.packetize(pidPAT, section(pat), NoTimestamp); err != nil {
		return err
	}

	pcrPID := w.streams[0].PID
	pmt := []byte{
		tableIDPMT, 0xB0, 0,
		0x00, programNumber, 0xC1, 0x00, 0x00,
		0xE0 | byte(pcrPID>>8), byte(pcrPID), 0xF0, 0x00,
	}
	for _, s := range w.streams {
		pmt = append(pmt, s.Type, 0xE0|byte(s.PID>>8), byte(s.PID), 0xF0, 0x00)
	}
	pmt[2] = byte(len(pmt) - 3 + 4)
	return w.packetize(pmtPID, section(pmt), NoTimestamp)
}

// section appends the CRC and prepends a zero pointer field.
func section(s []byte) []byte {
	out := make([]byte, 0, 1+len(s)+4)
	out = append(out, 0)
	out = append(out, s...)
	return binary.BigEndian.AppendUint32(out, crc32MPEG(s))
}

// packetize splits data over packets on pid. A PCR is carried in the first
// packet when pcr is not NoTimestamp; the last packet is padded with
// adaptation field stuffing.
func (w *Writer) packetize(pid uint16, data []byte, pcr int64) error {
	for first := true; first || len(data) > 0; first = false {
		var af []byte
		if first && pcr != NoTimestamp {
			base := uint64(pcr)
			af = []byte{0x10, byte(base >> 25), byte(base >> 17), byte(base >> 9), byte(base >> 1), byte(base<<7) | 0x7E, 0}
		}
		room := 184
		if af != nil {
			room -= 1 + len(af)
		}
		n := min(room, len(data))
		if stuff := room - n; stuff > 0 {
			switch {
			case af != nil:
				af = appendStuffing(af, stuff)
			case stuff == 1:
				af = []byte{}
			default:
				af = appendStuffing([]byte{0x00}, stuff-2)
			}
		}

		p := w.pkt[:0]
		pusi := byte(0)
		if first {
			pusi = 0x40
		}
		control := byte(0x10)
		if af != nil {
			control |= 0x20
		}
		cc := w.cc[pid]
		w.cc[pid] = (cc + 1) & 0x0F
		p = append(p, syncByte, pusi|byte(pid>>8)&0x1F, byte(pid), control|cc)
		if af != nil {
			p = append(p, byte(len(af)))
			p = append(p, af...)
		}
		p = append(p, data[:n]...)
		data = data[n:]

		if _, err := w.w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

func appendStuffing(b []byte, n int) []byte {
	for range n {
		b = append(b, 0xFF)
	}
	return b
}
