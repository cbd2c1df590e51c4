//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: HydraDNS's internal/dns/codec.go (EncodeName/DecodeName,
// compression-pointer handling, loop/depth guards).
//

// Package dnswire implements the DNS message wire format of §4.3 of the
// network stack core spec: name encoding with pointer compression, and
// A/AAAA/CNAME/MX/TXT resource record parsing.
package dnswire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ErrProtocol wraps every malformed-wire-data condition this package
// detects (spec: ProtocolError).
var ErrProtocol = fmt.Errorf("dnswire: protocol error")

// maxCompressionDepth bounds pointer-following recursion so a crafted
// packet cannot force unbounded indirection.
const maxCompressionDepth = 16

// EncodeName encodes domain (dot-separated, root "" allowed) into DNS
// wire format: length-prefixed labels terminated by a zero byte. It
// does not perform message-wide compression; compression is a decoder
// concern only, per §4.3/§8 invariant 2 (name round-trip).
func EncodeName(domain string) ([]byte, error) {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return []byte{0}, nil
	}

	labels := strings.Split(domain, ".")
	out := make([]byte, 0, len(domain)+2)
	for _, label := range labels {
		if len(label) == 0 {
			return nil, fmt.Errorf("%w: empty label in %q", ErrProtocol, domain)
		}
		if len(label) > 63 {
			return nil, fmt.Errorf("%w: label %q exceeds 63 bytes", ErrProtocol, label)
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	if len(out) > 255 {
		return nil, fmt.Errorf("%w: encoded name exceeds 255 bytes", ErrProtocol)
	}
	return out, nil
}

// DecodeName decodes a (possibly compressed) name from msg starting at
// offset off. It returns the decoded name and the number of bytes read
// from off: for a name reached directly this is the full encoded
// length; for a name ending in a compression pointer this is the count
// up to and including the two pointer bytes, NOT the bytes visited
// by following the pointer (§4.3, §8 invariant 3).
func DecodeName(msg []byte, off int) (name string, bytesRead int, err error) {
	var labels []string
	cursor := off
	consumed := -1 // set once we cross a pointer; marks the caller-visible end
	pointers := 0

	for depth := 0; ; depth++ {
		if depth > maxCompressionDepth {
			return "", 0, fmt.Errorf("%w: too many compression pointers", ErrProtocol)
		}
		if cursor >= len(msg) {
			return "", 0, fmt.Errorf("%w: unexpected EOF decoding name", ErrProtocol)
		}
		length := msg[cursor]

		if length&0xC0 == 0xC0 {
			pointers++
			if pointers > maxCompressionDepth {
				return "", 0, fmt.Errorf("%w: too many compression pointers", ErrProtocol)
			}
			if cursor+1 >= len(msg) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer", ErrProtocol)
			}
			ptr := int(binary.BigEndian.Uint16([]byte{length & 0x3F, msg[cursor+1]}))
			if ptr >= len(msg) {
				return "", 0, fmt.Errorf("%w: compression pointer out of bounds", ErrProtocol)
			}
			if consumed == -1 {
				consumed = cursor + 2 - off
			}
			cursor = ptr
			continue
		}
		if length&0xC0 != 0 {
			return "", 0, fmt.Errorf("%w: reserved label length bits set", ErrProtocol)
		}

		cursor++
		if length == 0 {
			break
		}
		if cursor+int(length) > len(msg) {
			return "", 0, fmt.Errorf("%w: unexpected EOF reading label", ErrProtocol)
		}
		labels = append(labels, string(msg[cursor:cursor+int(length)]))
		cursor += int(length)
	}

	if consumed == -1 {
		consumed = cursor - off
	}
	return strings.Join(labels, "."), consumed, nil
}
