package mpegts

import "errors"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errCRC = errors.New("mpegts: section CRC mismatch")

// MPEG-2 CRC32, polynomial 0x04C11DB7, no reflection.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func crc32MPEG(b []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, c := range b {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^c]
	}
	return crc
}

// sections splits a PSI payload (pointer field first) into complete
// sections. It stops at stuffing or at a section that does not fit.
func sections(payload []byte) [][]byte {
	if len(payload) == 0 {
		return nil
	}
	off := 1 + int(payload[0])
	var out [][]byte
	for off+3 <= len(payload) {
		if payload[off] == 0xFF || payload[off+1]&0x80 == 0 {
			break
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			break
		}
		out = append(out, payload[off:end])
		off = end
	}
	return out
}

// sectionComplete reports whether payload holds at least one full section.
func sectionComplete(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	off := 1 + int(payload[0])
	if off+3 > len(payload) {
		return false
	}
	return off+3+(int(payload[off+1]&0x0F)<<8|int(payload[off+2])) <= len(payload)
}

// parsePAT returns the PMT PID of every program in a PAT section.
func parsePAT(s []byte) ([]uint16, error) {
	if len(s) < 12 {
		return nil, errors.New("mpegts: PAT too short")
	}
	if crc32MPEG(s) != 0 {
		return nil, errCRC
	}
	var pids []uint16
	for i := 8; i+4 <= len(s)-4; i += 4 {
		program := uint16(s[i])<<8 | uint16(s[i+1])
		if program == 0 {
			continue // network PID
		}
		pids = append(pids, uint16(s[i+2]&0x1F)<<8|uint16(s[i+3]))
	}
	return pids, nil
}

// Stream is one elementary stream announced by a PMT.
type Stream struct {
	PID  uint16
	Type uint8
}

// Elementary stream types this package names.
const (
	StreamTypeAAC  uint8 = 0x0F
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
)

func parsePMT(s []byte) ([]Stream, error) {
	if len(s) < 16 {
		return nil, errors.New("mpegts: PMT too short")
	}
	if crc32MPEG(s) != 0 {
		return nil, errCRC
	}
	end := len(s) - 4
	off := 12 + (int(s[10]&0x0F)<<8 | int(s[11]))
	var out []Stream
	for off+5 <= end {
		out = append(out, Stream{
			PID:  uint16(s[off+1]&0x1F)<<8 | uint16(s[off+2]),
			Type: s[off],
		})
		off += 5 + (int(s[off+3]&0x0F)<<8 | int(s[off+4]))
	}
	return out, nil
}
