package mpegts

import "fmt"

const (
	// PacketSize is the size of one transport packet.
	PacketSize = 188
	syncByte   = 0x47
	pidPAT     = 0x0000
	pidNull    = 0x1FFF
)

type header struct {
	pid           uint16
	cc            uint8
	pusi          bool
	tei           bool
	discontinuity bool
	hasPayload    bool
}

// parsePacket decodes the header of one packet and returns its payload,
// which aliases buf.
func parsePacket(buf []byte) (header, []byte, error) {
	var h header
	if len(buf) != PacketSize {
		return h, nil, fmt.Errorf("mpegts: packet size %d, want %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return h, nil, fmt.Errorf("mpegts: sync byte 0x%02X", buf[0])
	}

	h.tei = buf[1]&0x80 != 0
	h.pusi = buf[1]&0x40 != 0
	h.pid = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	hasAF := buf[3]&0x20 != 0
	h.hasPayload = buf[3]&0x10 != 0
	h.cc = buf[3] & 0x0F

	off := 4
	if hasAF {
		afLen := int(buf[4])
		if afLen > 0 {
			h.discontinuity = buf[5]&0x80 != 0
		}
		off += 1 + afLen
	}
	if !h.hasPayload || off >= PacketSize {
		return h, nil, nil
	}
	return h, buf[off:], nil
}
