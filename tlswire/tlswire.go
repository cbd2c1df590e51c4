// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: jroosing-HydraDNS's wire-parser idiom (explicit cursor,
// sentinel wrapped errors) applied to the TLS 1.3 handshake framing of
// §4.11/RFC 8446 §4.

// Package tlswire implements TLS 1.3 handshake message framing and the
// per-message/per-extension parsers of §4.11.
package tlswire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrProtocol wraps every malformed-wire-data condition this package
// detects.
var ErrProtocol = errors.New("tlswire: protocol error")

// MessageType is a TLS handshake message type code, per §4.11.
type MessageType uint8

// Handshake message type codes.
const (
	MessageTypeClientHello        MessageType = 1
	MessageTypeServerHello        MessageType = 2
	MessageTypeNewSessionTicket   MessageType = 4
	MessageTypeEncryptedExtensions MessageType = 8
	MessageTypeCertificate        MessageType = 11
	MessageTypeCertificateRequest MessageType = 13
	MessageTypeCertificateVerify  MessageType = 15
	MessageTypeFinished           MessageType = 20
	MessageTypeKeyUpdate          MessageType = 24
	MessageTypeMessageHash        MessageType = 254
)

// ExtensionType is a TLS extension code, per §4.11.
type ExtensionType uint16

// Extension codes.
const (
	ExtensionServerName          ExtensionType = 0
	ExtensionSupportedGroups     ExtensionType = 10
	ExtensionSignatureAlgorithms ExtensionType = 13
	ExtensionALPN                ExtensionType = 16
	ExtensionSupportedVersions   ExtensionType = 43
	ExtensionKeyShare            ExtensionType = 51
)

// GroupX25519 is the supported_groups/key_share code point for x25519.
const GroupX25519 uint16 = 0x001d

// Message is one framed handshake message: [type(1)][length(3)][body].
type Message struct {
	Type MessageType
	Body []byte
}

// FrameMessage serializes msgType and body into the 4-byte-header wire
// framing of §4.11.
func FrameMessage(msgType MessageType, body []byte) []byte {
	out := make([]byte, 4+len(body))
	out[0] = byte(msgType)
	out[1] = byte(len(body) >> 16)
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body))
	copy(out[4:], body)
	return out
}

// ParseMessage parses one framed handshake message at buf[off],
// returning the message and the offset immediately following it.
// Message types this package does not specifically model are retained
// verbatim in Body; callers identify them via the numeric Type.
func ParseMessage(buf []byte, off int) (Message, int, error) {
	if off+4 > len(buf) {
		return Message{}, 0, fmt.Errorf("%w: truncated message header", ErrProtocol)
	}
	length := int(buf[off+1])<<16 | int(buf[off+2])<<8 | int(buf[off+3])
	bodyOff := off + 4
	if bodyOff+length > len(buf) {
		return Message{}, 0, fmt.Errorf("%w: truncated message body", ErrProtocol)
	}
	return Message{
		Type: MessageType(buf[off]),
		Body: buf[bodyOff : bodyOff+length],
	}, bodyOff + length, nil
}

// Extension is one parsed extension: a code and its raw payload.
// Unknown extension types are retained verbatim, identified by Type.
type Extension struct {
	Type ExtensionType
	Data []byte
}

// ParseExtensions parses a sequence of 2-byte-type/2-byte-length
// extensions filling all of buf.
func ParseExtensions(buf []byte) ([]Extension, error) {
	var exts []Extension
	off := 0
	for off < len(buf) {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("%w: truncated extension header", ErrProtocol)
		}
		typ := ExtensionType(binary.BigEndian.Uint16(buf[off : off+2]))
		length := int(binary.BigEndian.Uint16(buf[off+2 : off+4]))
		off += 4
		if off+length > len(buf) {
			return nil, fmt.Errorf("%w: truncated extension data", ErrProtocol)
		}
		exts = append(exts, Extension{Type: typ, Data: buf[off : off+length]})
		off += length
	}
	return exts, nil
}

// EncodeExtension frames one extension's type/length/data.
func EncodeExtension(typ ExtensionType, data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(out[0:2], uint16(typ))
	binary.BigEndian.PutUint16(out[2:4], uint16(len(data)))
	copy(out[4:], data)
	return out
}

// EncodeServerNameExtension builds the server_name extension payload
// for hostname (name_type=0, host_name).
func EncodeServerNameExtension(hostname string) []byte {
	nameEntry := make([]byte, 3+len(hostname))
	nameEntry[0] = 0 // name_type = host_name
	binary.BigEndian.PutUint16(nameEntry[1:3], uint16(len(hostname)))
	copy(nameEntry[3:], hostname)

	out := make([]byte, 2+len(nameEntry))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(nameEntry)))
	copy(out[2:], nameEntry)
	return out
}

// ParseServerNameExtension extracts the host_name entry from a
// server_name extension payload, if present.
func ParseServerNameExtension(data []byte) (string, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("%w: truncated server_name extension", ErrProtocol)
	}
	listLen := int(binary.BigEndian.Uint16(data[0:2]))
	if 2+listLen > len(data) {
		return "", fmt.Errorf("%w: truncated server_name list", ErrProtocol)
	}
	off := 2
	end := 2 + listLen
	for off < end {
		if off+3 > end {
			return "", fmt.Errorf("%w: truncated server_name entry", ErrProtocol)
		}
		nameType := data[off]
		nameLen := int(binary.BigEndian.Uint16(data[off+1 : off+3]))
		off += 3
		if off+nameLen > end {
			return "", fmt.Errorf("%w: truncated server_name value", ErrProtocol)
		}
		if nameType == 0 {
			return string(data[off : off+nameLen]), nil
		}
		off += nameLen
	}
	return "", fmt.Errorf("%w: no host_name entry", ErrProtocol)
}

// EncodeSupportedVersionsExtension builds the supported_versions
// extension payload (client form: a length-prefixed list).
func EncodeSupportedVersionsExtension(versions ...uint16) []byte {
	out := make([]byte, 1+2*len(versions))
	out[0] = byte(2 * len(versions))
	for i, v := range versions {
		binary.BigEndian.PutUint16(out[1+2*i:3+2*i], v)
	}
	return out
}

// ParseSupportedVersionsExtension parses a supported_versions
// extension payload in its server form: a single 2-byte version.
func ParseSupportedVersionsExtension(data []byte) (uint16, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("%w: supported_versions server form must be 2 bytes", ErrProtocol)
	}
	return binary.BigEndian.Uint16(data), nil
}

// EncodeKeyShareExtension builds a client key_share extension
// offering exactly one (group, publicKey) entry.
func EncodeKeyShareExtension(group uint16, publicKey []byte) []byte {
	entry := make([]byte, 4+len(publicKey))
	binary.BigEndian.PutUint16(entry[0:2], group)
	binary.BigEndian.PutUint16(entry[2:4], uint16(len(publicKey)))
	copy(entry[4:], publicKey)

	out := make([]byte, 2+len(entry))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(entry)))
	copy(out[2:], entry)
	return out
}

// KeyShareEntry is one (group, key) entry from a key_share extension.
type KeyShareEntry struct {
	Group     uint16
	PublicKey []byte
}

// ParseKeyShareExtensionServer parses a server key_share extension
// payload: a single entry with no enclosing length prefix.
func ParseKeyShareExtensionServer(data []byte) (KeyShareEntry, error) {
	if len(data) < 4 {
		return KeyShareEntry{}, fmt.Errorf("%w: truncated key_share entry", ErrProtocol)
	}
	group := binary.BigEndian.Uint16(data[0:2])
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if 4+length > len(data) {
		return KeyShareEntry{}, fmt.Errorf("%w: truncated key_share key", ErrProtocol)
	}
	return KeyShareEntry{Group: group, PublicKey: data[4 : 4+length]}, nil
}

// EncodeALPNExtension builds the application_layer_protocol_negotiation
// extension payload from an ordered protocol list.
func EncodeALPNExtension(protocols []string) []byte {
	var list []byte
	for _, p := range protocols {
		list = append(list, byte(len(p)))
		list = append(list, p...)
	}
	out := make([]byte, 2+len(list))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(list)))
	copy(out[2:], list)
	return out
}

// ParseALPNExtension parses an ALPN extension payload into its
// protocol-name list.
func ParseALPNExtension(data []byte) ([]string, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: truncated ALPN extension", ErrProtocol)
	}
	listLen := int(binary.BigEndian.Uint16(data[0:2]))
	if 2+listLen > len(data) {
		return nil, fmt.Errorf("%w: truncated ALPN list", ErrProtocol)
	}
	var protocols []string
	off := 2
	end := 2 + listLen
	for off < end {
		l := int(data[off])
		off++
		if off+l > end {
			return nil, fmt.Errorf("%w: truncated ALPN entry", ErrProtocol)
		}
		protocols = append(protocols, string(data[off:off+l]))
		off += l
	}
	return protocols, nil
}

// ServerHello is the parsed body of a ServerHello handshake message.
type ServerHello struct {
	LegacyVersion     uint16
	Random            []byte
	SessionID         []byte
	CipherSuite       uint16
	CompressionMethod uint8
	Extensions        []Extension
}

// ParseServerHello parses a ServerHello message body.
func ParseServerHello(body []byte) (ServerHello, error) {
	if len(body) < 2+32+1 {
		return ServerHello{}, fmt.Errorf("%w: truncated ServerHello", ErrProtocol)
	}
	off := 0
	legacyVersion := binary.BigEndian.Uint16(body[off : off+2])
	off += 2
	random := body[off : off+32]
	off += 32
	sessionIDLen := int(body[off])
	off++
	if off+sessionIDLen > len(body) {
		return ServerHello{}, fmt.Errorf("%w: truncated session id", ErrProtocol)
	}
	sessionID := body[off : off+sessionIDLen]
	off += sessionIDLen

	if off+3 > len(body) {
		return ServerHello{}, fmt.Errorf("%w: truncated cipher/compression", ErrProtocol)
	}
	cipherSuite := binary.BigEndian.Uint16(body[off : off+2])
	off += 2
	compression := body[off]
	off++

	if off+2 > len(body) {
		return ServerHello{}, fmt.Errorf("%w: truncated extensions length", ErrProtocol)
	}
	extLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if off+extLen > len(body) {
		return ServerHello{}, fmt.Errorf("%w: truncated extensions", ErrProtocol)
	}
	exts, err := ParseExtensions(body[off : off+extLen])
	if err != nil {
		return ServerHello{}, err
	}

	return ServerHello{
		LegacyVersion:     legacyVersion,
		Random:            random,
		SessionID:         sessionID,
		CipherSuite:       cipherSuite,
		CompressionMethod: compression,
		Extensions:        exts,
	}, nil
}

// ParseEncryptedExtensions parses an EncryptedExtensions message body:
// a single extensions block.
func ParseEncryptedExtensions(body []byte) ([]Extension, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("%w: truncated EncryptedExtensions", ErrProtocol)
	}
	extLen := int(binary.BigEndian.Uint16(body[0:2]))
	if 2+extLen > len(body) {
		return nil, fmt.Errorf("%w: truncated EncryptedExtensions data", ErrProtocol)
	}
	return ParseExtensions(body[2 : 2+extLen])
}

// CertificateEntry is one certificate in a Certificate message's
// certificate_list, with its per-certificate extensions.
type CertificateEntry struct {
	CertData   []byte
	Extensions []Extension
}

// CertificateMessage is the parsed body of a Certificate handshake
// message.
type CertificateMessage struct {
	CertificateRequestContext []byte
	Entries                   []CertificateEntry
}

// ParseCertificateMessage parses a Certificate message body per
// RFC 8446 §4.4.2.
func ParseCertificateMessage(body []byte) (CertificateMessage, error) {
	if len(body) < 1 {
		return CertificateMessage{}, fmt.Errorf("%w: truncated Certificate message", ErrProtocol)
	}
	ctxLen := int(body[0])
	off := 1
	if off+ctxLen > len(body) {
		return CertificateMessage{}, fmt.Errorf("%w: truncated certificate_request_context", ErrProtocol)
	}
	ctx := body[off : off+ctxLen]
	off += ctxLen

	if off+3 > len(body) {
		return CertificateMessage{}, fmt.Errorf("%w: truncated certificate_list length", ErrProtocol)
	}
	listLen := int(body[off])<<16 | int(body[off+1])<<8 | int(body[off+2])
	off += 3
	if off+listLen > len(body) {
		return CertificateMessage{}, fmt.Errorf("%w: truncated certificate_list", ErrProtocol)
	}
	end := off + listLen

	var entries []CertificateEntry
	for off < end {
		if off+3 > end {
			return CertificateMessage{}, fmt.Errorf("%w: truncated cert_data length", ErrProtocol)
		}
		certLen := int(body[off])<<16 | int(body[off+1])<<8 | int(body[off+2])
		off += 3
		if off+certLen > end {
			return CertificateMessage{}, fmt.Errorf("%w: truncated cert_data", ErrProtocol)
		}
		certData := body[off : off+certLen]
		off += certLen

		if off+2 > end {
			return CertificateMessage{}, fmt.Errorf("%w: truncated extensions length", ErrProtocol)
		}
		extLen := int(binary.BigEndian.Uint16(body[off : off+2]))
		off += 2
		if off+extLen > end {
			return CertificateMessage{}, fmt.Errorf("%w: truncated certificate extensions", ErrProtocol)
		}
		exts, err := ParseExtensions(body[off : off+extLen])
		if err != nil {
			return CertificateMessage{}, err
		}
		off += extLen

		entries = append(entries, CertificateEntry{CertData: certData, Extensions: exts})
	}

	return CertificateMessage{CertificateRequestContext: ctx, Entries: entries}, nil
}

// CertificateVerify is the parsed body of a CertificateVerify message.
type CertificateVerify struct {
	Algorithm uint16
	Signature []byte
}

// ParseCertificateVerify parses a CertificateVerify message body.
func ParseCertificateVerify(body []byte) (CertificateVerify, error) {
	if len(body) < 4 {
		return CertificateVerify{}, fmt.Errorf("%w: truncated CertificateVerify", ErrProtocol)
	}
	alg := binary.BigEndian.Uint16(body[0:2])
	sigLen := int(binary.BigEndian.Uint16(body[2:4]))
	if 4+sigLen > len(body) {
		return CertificateVerify{}, fmt.Errorf("%w: truncated signature", ErrProtocol)
	}
	return CertificateVerify{Algorithm: alg, Signature: body[4 : 4+sigLen]}, nil
}

// ParseFinished returns a Finished message body's verify_data verbatim
// (its length is implied by the negotiated hash and is not self-described).
func ParseFinished(body []byte) []byte {
	return body
}

// NewSessionTicket is the parsed body of a NewSessionTicket message.
type NewSessionTicket struct {
	LifetimeSeconds uint32
	AgeAdd          uint32
	Nonce           []byte
	Ticket          []byte
	Extensions      []Extension
}

// ParseNewSessionTicket parses a NewSessionTicket message body.
func ParseNewSessionTicket(body []byte) (NewSessionTicket, error) {
	if len(body) < 9 {
		return NewSessionTicket{}, fmt.Errorf("%w: truncated NewSessionTicket", ErrProtocol)
	}
	lifetime := binary.BigEndian.Uint32(body[0:4])
	ageAdd := binary.BigEndian.Uint32(body[4:8])
	nonceLen := int(body[8])
	off := 9
	if off+nonceLen > len(body) {
		return NewSessionTicket{}, fmt.Errorf("%w: truncated ticket_nonce", ErrProtocol)
	}
	nonce := body[off : off+nonceLen]
	off += nonceLen

	if off+2 > len(body) {
		return NewSessionTicket{}, fmt.Errorf("%w: truncated ticket length", ErrProtocol)
	}
	ticketLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if off+ticketLen > len(body) {
		return NewSessionTicket{}, fmt.Errorf("%w: truncated ticket", ErrProtocol)
	}
	ticket := body[off : off+ticketLen]
	off += ticketLen

	if off+2 > len(body) {
		return NewSessionTicket{}, fmt.Errorf("%w: truncated ticket extensions length", ErrProtocol)
	}
	extLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	if off+extLen > len(body) {
		return NewSessionTicket{}, fmt.Errorf("%w: truncated ticket extensions", ErrProtocol)
	}
	exts, err := ParseExtensions(body[off : off+extLen])
	if err != nil {
		return NewSessionTicket{}, err
	}

	return NewSessionTicket{
		LifetimeSeconds: lifetime,
		AgeAdd:          ageAdd,
		Nonce:           nonce,
		Ticket:          ticket,
		Extensions:      exts,
	}, nil
}
