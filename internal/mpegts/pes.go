package mpegts

import "errors"

// NoTimestamp marks a unit whose PES header carried no PTS or DTS.
const NoTimestamp int64 = -1

type pes struct {
	pts, dts int64
	data     []byte
}

func parsePES(b []byte) (pes, error) {
	p := pes{pts: NoTimestamp, dts: NoTimestamp}
	if len(b) < 6 || b[0] != 0 || b[1] != 0 || b[2] != 1 {
		return p, errors.New("mpegts: missing PES start code")
	}
	streamID := b[3]
	length := int(b[4])<<8 | int(b[5])

	end := len(b)
	if length > 0 && 6+length < end {
		end = 6 + length
	}

	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		// No optional header on these stream ids.
		p.data = b[6:end]
		return p, nil
	}

	if len(b) < 9 {
		return p, errors.New("mpegts: PES header truncated")
	}
	flags := b[7] >> 6
	start := min(9+int(b[8]), end)
	if flags&0x2 != 0 && len(b) >= 14 {
		p.pts = timestamp(b[9:14])
		p.dts = p.pts
	}
	if flags == 0x3 && len(b) >= 19 {
		p.dts = timestamp(b[14:19])
	}
	p.data = b[start:end]
	return p, nil
}

// timestamp decodes a 33-bit PTS or DTS field.
func timestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
