//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: HydraDNS's internal/dns/header.go fixed-layout binary
// codec idiom (explicit byte offsets, encoding/binary.BigEndian,
// symmetric Marshal/Parse pair).
//

// Package tcpseg builds, serializes, and parses the fixed 20-byte
// application-level TCP segment header described in §4.2 of the
// network stack core spec. It is used by higher-level protocol
// emulation, not by the OS transport itself.
package tcpseg

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Flag is a single bit of the TCP flags octet.
type Flag uint8

// Flag bit masks, placed in the low byte of the flags word at header
// offset 12, per §4.2.
const (
	FlagFIN Flag = 0x01
	FlagSYN Flag = 0x02
	FlagRST Flag = 0x04
	FlagPSH Flag = 0x08
	FlagACK Flag = 0x10
	FlagURG Flag = 0x20
	FlagECE Flag = 0x40
	FlagCWR Flag = 0x80
)

// HeaderSize is the fixed, options-free header length this codec uses.
const HeaderSize = 20

// MinDataOffset is the minimum data-offset value (5 32-bit words = 20 bytes).
const MinDataOffset = 5

// Options carries the optional TCP fields named in §3; this codec does
// not serialize them into the wire header (header is fixed 20 bytes),
// they are informational metadata on the in-memory [Segment].
type Options struct {
	MSS              uint16
	MSSPresent       bool
	WindowScale      uint8
	WindowScalePresent bool
	SACKPermitted    bool
}

// Segment is an immutable, in-memory application-level TCP segment
// record. Construct with [New]; once built it is never mutated.
type Segment struct {
	SourcePort      uint16
	DestPort        uint16
	SeqNum          uint32
	AckNum          uint32
	DataOffset      uint8
	Flags           Flag
	Window          uint16
	Checksum        uint16
	UrgentPointer   uint16
	TCPOptions      Options
	Payload         []byte
	Timestamp       time.Time
}

// Params configures [New]; zero-valued fields take the defaults listed
// in §4.2 (ports 0, sequence/ack 0, data offset 5, window 65535, no
// flags, empty payload, empty options).
type Params struct {
	SourcePort    uint16
	DestPort      uint16
	SeqNum        uint32
	AckNum        uint32
	DataOffset    uint8
	Flags         Flag
	Window        uint16
	HasWindow     bool
	Checksum      uint16
	UrgentPointer uint16
	TCPOptions    Options
	Payload       []byte
	Now           func() time.Time
}

// New builds a [Segment] from p, applying the §4.2 defaults for any
// field p leaves at its zero value.
func New(p Params) Segment {
	window := p.Window
	if !p.HasWindow {
		window = 65535
	}
	dataOffset := p.DataOffset
	if dataOffset == 0 {
		dataOffset = MinDataOffset
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	payload := p.Payload
	if payload == nil {
		payload = []byte{}
	}
	return Segment{
		SourcePort:    p.SourcePort,
		DestPort:      p.DestPort,
		SeqNum:        p.SeqNum,
		AckNum:        p.AckNum,
		DataOffset:    dataOffset,
		Flags:         p.Flags,
		Window:        window,
		Checksum:      p.Checksum,
		UrgentPointer: p.UrgentPointer,
		TCPOptions:    p.TCPOptions,
		Payload:       payload,
		Timestamp:     now(),
	}
}

// Has reports whether flag is set.
func (s Segment) Has(flag Flag) bool {
	return s.Flags&flag != 0
}

// Serialize encodes s into a 20+len(payload)-byte buffer per §4.2.
// Options are not serialized into the wire header by this codec.
func Serialize(s Segment) []byte {
	buf := make([]byte, HeaderSize+len(s.Payload))
	binary.BigEndian.PutUint16(buf[0:2], s.SourcePort)
	binary.BigEndian.PutUint16(buf[2:4], s.DestPort)
	binary.BigEndian.PutUint32(buf[4:8], s.SeqNum)
	binary.BigEndian.PutUint32(buf[8:12], s.AckNum)
	buf[12] = byte(s.Flags)
	buf[13] = s.DataOffset
	binary.BigEndian.PutUint16(buf[14:16], s.Window)
	binary.BigEndian.PutUint16(buf[16:18], s.Checksum)
	binary.BigEndian.PutUint16(buf[18:20], s.UrgentPointer)
	copy(buf[20:], s.Payload)
	return buf
}

// ErrTruncated is returned by [Parse] when buf is shorter than [HeaderSize].
var ErrTruncated = fmt.Errorf("tcpseg: segment shorter than %d bytes", HeaderSize)

// Parse is the exact inverse of [Serialize]: for every field this
// codec covers, Parse(Serialize(s)) == s. It requires len(buf) >= 20.
func Parse(buf []byte) (Segment, error) {
	if len(buf) < HeaderSize {
		return Segment{}, ErrTruncated
	}
	payload := make([]byte, len(buf)-HeaderSize)
	copy(payload, buf[HeaderSize:])
	return Segment{
		SourcePort:    binary.BigEndian.Uint16(buf[0:2]),
		DestPort:      binary.BigEndian.Uint16(buf[2:4]),
		SeqNum:        binary.BigEndian.Uint32(buf[4:8]),
		AckNum:        binary.BigEndian.Uint32(buf[8:12]),
		Flags:         Flag(buf[12]),
		DataOffset:    buf[13],
		Window:        binary.BigEndian.Uint16(buf[14:16]),
		Checksum:      binary.BigEndian.Uint16(buf[16:18]),
		UrgentPointer: binary.BigEndian.Uint16(buf[18:20]),
		Payload:       payload,
	}, nil
}
