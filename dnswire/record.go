// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: HydraDNS's internal/dns/ip_record.go and record.go
// (per-type rdata parse functions, explicit cursor advance).

package dnswire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// RecordType is a DNS resource record type code.
type RecordType uint16

// Record types handled by this codec, per §4.3.
const (
	TypeA     RecordType = 1
	TypeCNAME RecordType = 5
	TypeMX    RecordType = 15
	TypeTXT   RecordType = 16
	TypeAAAA  RecordType = 28
)

// Class is a DNS resource record class.
type Class uint16

// ClassIN is the only class this codec constructs.
const ClassIN Class = 1

// Record is a parsed DNS resource record. RData holds the type-specific
// decoded payload: string for A/AAAA/CNAME, MXData for MX, []string for TXT.
type Record struct {
	Name  string
	Type  RecordType
	Class Class
	TTL   uint32
	RData any
}

// MXData is the decoded rdata of an MX record.
type MXData struct {
	Priority   uint16
	Exchange   string
}

// ParseRecord decodes one resource record from msg at offset off,
// returning the record and the offset immediately following it.
func ParseRecord(msg []byte, off int) (Record, int, error) {
	name, n, err := DecodeName(msg, off)
	if err != nil {
		return Record{}, 0, err
	}
	off += n

	if off+10 > len(msg) {
		return Record{}, 0, fmt.Errorf("%w: unexpected EOF reading record header", ErrProtocol)
	}
	rtype := RecordType(binary.BigEndian.Uint16(msg[off : off+2]))
	class := Class(binary.BigEndian.Uint16(msg[off+2 : off+4]))
	ttl := binary.BigEndian.Uint32(msg[off+4 : off+8])
	rdlength := int(binary.BigEndian.Uint16(msg[off+8 : off+10]))
	off += 10

	if off+rdlength > len(msg) {
		return Record{}, 0, fmt.Errorf("%w: unexpected EOF reading rdata", ErrProtocol)
	}
	rdata := msg[off : off+rdlength]

	var value any
	switch rtype {
	case TypeA:
		if len(rdata) != 4 {
			return Record{}, 0, fmt.Errorf("%w: A record must be 4 bytes, got %d", ErrProtocol, len(rdata))
		}
		value = formatIPv4(rdata)
	case TypeAAAA:
		if len(rdata) != 16 {
			return Record{}, 0, fmt.Errorf("%w: AAAA record must be 16 bytes, got %d", ErrProtocol, len(rdata))
		}
		value = formatIPv6(rdata)
	case TypeCNAME:
		name, _, err := DecodeName(msg, off)
		if err != nil {
			return Record{}, 0, err
		}
		value = name
	case TypeMX:
		if len(rdata) < 2 {
			return Record{}, 0, fmt.Errorf("%w: MX record missing priority", ErrProtocol)
		}
		priority := binary.BigEndian.Uint16(rdata[0:2])
		exchange, _, err := DecodeName(msg, off+2)
		if err != nil {
			return Record{}, 0, err
		}
		value = MXData{Priority: priority, Exchange: exchange}
	case TypeTXT:
		strs, err := parseTXT(rdata)
		if err != nil {
			return Record{}, 0, err
		}
		value = strs
	default:
		cp := make([]byte, len(rdata))
		copy(cp, rdata)
		value = cp
	}

	return Record{Name: name, Type: rtype, Class: class, TTL: ttl, RData: value}, off + rdlength, nil
}

func parseTXT(rdata []byte) ([]string, error) {
	var out []string
	i := 0
	for i < len(rdata) {
		l := int(rdata[i])
		i++
		if i+l > len(rdata) {
			return nil, fmt.Errorf("%w: TXT segment overruns rdata", ErrProtocol)
		}
		out = append(out, string(rdata[i:i+l]))
		i += l
	}
	return out, nil
}

func formatIPv4(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// formatIPv6 renders 16 raw bytes as eight colon-separated hex groups
// with one "::" compression for the longest run of zero groups, per §4.3.
func formatIPv6(b []byte) string {
	groups := make([]uint16, 8)
	for i := range groups {
		groups[i] = binary.BigEndian.Uint16(b[i*2 : i*2+2])
	}

	bestStart, bestLen := -1, 0
	curStart, curLen := -1, 0
	for i, g := range groups {
		if g == 0 {
			if curStart == -1 {
				curStart = i
			}
			curLen++
			if curLen > bestLen {
				bestStart, bestLen = curStart, curLen
			}
		} else {
			curStart, curLen = -1, 0
		}
	}
	// A single zero group is not worth compressing.
	if bestLen < 2 {
		bestStart, bestLen = -1, 0
	}

	var parts []string
	i := 0
	for i < 8 {
		if i == bestStart {
			parts = append(parts, "")
			if i == 0 {
				parts = append(parts, "")
			}
			i += bestLen
			continue
		}
		parts = append(parts, fmt.Sprintf("%x", groups[i]))
		i++
	}
	if bestStart != -1 && bestStart+bestLen == 8 {
		parts = append(parts, "")
	}
	return strings.Join(parts, ":")
}
