// Package mpegts reads elementary stream units out of an MPEG transport
// stream. It discovers programs through the PAT and PMT, reassembles PES
// packets per PID and reports their 90 kHz timestamps. Corrupt packets and
// sections are skipped rather than failing the read.
package mpegts
