package mpegts

import (
	"errors"
	"io"
	"slices"
)

// Unit is one reassembled PES payload of an announced elementary stream.
// Data is owned by the caller.
type Unit struct {
	PID        uint16
	StreamType uint8
	PTS        int64 // 90 kHz, NoTimestamp if absent
	DTS        int64 // equals PTS when the header carried only a PTS
	Data       []byte
}

type assembly struct {
	cc      uint8
	started bool
	data    []byte
}

func (a *assembly) reset() {
	a.data = nil
	a.started = false
}

// Reader pulls Units out of a transport stream.
type Reader struct {
	r   io.Reader
	buf [PacketSize]byte

	pmtPIDs map[uint16]bool
	types   map[uint16]uint8
	streams []Stream
	acc     map[uint16]*assembly

	pending []Unit
	eof     bool
	skipped int
}

// NewReader returns a Reader over r, which must start on a packet boundary.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:       r,
		pmtPIDs: make(map[uint16]bool),
		types:   make(map[uint16]uint8),
		acc:     make(map[uint16]*assembly),
	}
}

// Streams returns the elementary streams announced so far, in PMT order.
func (r *Reader) Streams() []Stream { return slices.Clone(r.streams) }

// Skipped counts packets, sections and PES headers dropped as corrupt or
// discontinuous.
func (r *Reader) Skipped() int { return r.skipped }

// Next returns the next unit. It returns io.EOF once the input is exhausted
// and every pending unit has been delivered.
func (r *Reader) Next() (Unit, error) {
	for {
		if len(r.pending) > 0 {
			u := r.pending[0]
			r.pending = r.pending[1:]
			return u, nil
		}
		if r.eof {
			return Unit{}, io.EOF
		}

		_, err := io.ReadFull(r.r, r.buf[:])
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.eof = true
			r.flush()
			continue
		}
		if err != nil {
			return Unit{}, err
		}

		h, payload, err := parsePacket(r.buf[:])
		if err != nil {
			r.skipped++
			continue
		}
		r.packet(h, payload)
	}
}

func (r *Reader) packet(h header, payload []byte) {
	if h.pid == pidNull {
		return
	}
	a := r.acc[h.pid]
	if a == nil {
		a = &assembly{}
		r.acc[h.pid] = a
	}
	if h.tei {
		a.reset()
		r.skipped++
		return
	}
	// The continuity counter only advances on packets with payload.
	if !h.hasPayload {
		return
	}

	if a.started && !h.discontinuity && h.cc != (a.cc+1)&0x0F {
		if h.cc == a.cc {
			return // duplicate
		}
		a.reset()
		r.skipped++
	}

	if h.pusi {
		if a.started && len(a.data) > 0 {
			done := a.data
			a.data = nil
			r.complete(h.pid, done)
		}
		a.started = true
	} else if !a.started {
		return // joined mid-unit
	}
	a.cc = h.cc
	a.data = append(a.data, payload...)

	if r.isPSI(h.pid) && sectionComplete(a.data) {
		done := a.data
		a.reset()
		r.complete(h.pid, done)
	}
}

func (r *Reader) isPSI(pid uint16) bool {
	return pid == pidPAT || r.pmtPIDs[pid]
}

func (r *Reader) complete(pid uint16, data []byte) {
	if r.isPSI(pid) {
		r.tables(data)
		return
	}
	typ, ok := r.types[pid]
	if !ok {
		return
	}
	p, err := parsePES(data)
	if err != nil {
		r.skipped++
		return
	}
	if len(p.data) == 0 {
		return
	}
	r.pending = append(r.pending, Unit{PID: pid, StreamType: typ, PTS: p.pts, DTS: p.dts, Data: p.data})
}

func (r *Reader) tables(payload []byte) {
	for _, s := range sections(payload) {
		switch s[0] {
		case tableIDPAT:
			pids, err := parsePAT(s)
			if err != nil {
				r.skipped++
				continue
			}
			for _, pid := range pids {
				r.pmtPIDs[pid] = true
			}
		case tableIDPMT:
			streams, err := parsePMT(s)
			if err != nil {
				r.skipped++
				continue
			}
			for _, st := range streams {
				if _, seen := r.types[st.PID]; !seen {
					r.types[st.PID] = st.Type
					r.streams = append(r.streams, st)
				}
			}
		}
	}
}

// flush completes every partially assembled unit at end of input. Tables
// go first, PAT before PMTs, so streams announced in the tail still count.
func (r *Reader) flush() {
	pids := make([]uint16, 0, len(r.acc))
	for pid := range r.acc {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	for _, psi := range []bool{true, false} {
		for _, pid := range pids {
			a := r.acc[pid]
			if r.isPSI(pid) != psi || !a.started || len(a.data) == 0 {
				continue
			}
			done := a.data
			a.reset()
			r.complete(pid, done)
		}
	}
}
