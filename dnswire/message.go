// SPDX-License-Identifier: GPL-3.0-or-later

package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Question is a single DNS question-section entry.
type Question struct {
	Name  string
	Type  RecordType
	Class Class
}

// Query is a DNS request message: a header plus exactly one question,
// per the resolver's strategy in §4.4.
type Query struct {
	ID       uint16
	RD       bool
	Question Question
}

// Marshal serializes q into a full DNS wire message.
func (q Query) Marshal() ([]byte, error) {
	h := Header{ID: q.ID, RD: q.RD, QDCount: 1}
	nameWire, err := EncodeName(q.Question.Name)
	if err != nil {
		return nil, err
	}
	qd := make([]byte, 0, len(nameWire)+4)
	qd = append(qd, nameWire...)
	qTail := make([]byte, 4)
	binary.BigEndian.PutUint16(qTail[0:2], uint16(q.Question.Type))
	binary.BigEndian.PutUint16(qTail[2:4], uint16(q.Question.Class))
	qd = append(qd, qTail...)

	out := make([]byte, 0, HeaderSize+len(qd))
	out = append(out, h.Marshal()...)
	out = append(out, qd...)
	return out, nil
}

// ParseQuery parses a DNS request message: a header plus exactly one
// question. It is the inverse of [Query.Marshal], and is also useful
// for a DoH/UDP server implementation decoding an inbound query.
func ParseQuery(msg []byte) (Query, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return Query{}, err
	}
	if h.QDCount < 1 {
		return Query{}, fmt.Errorf("%w: query has no question", ErrProtocol)
	}

	off := HeaderSize
	name, n, err := DecodeName(msg, off)
	if err != nil {
		return Query{}, err
	}
	off += n
	if off+4 > len(msg) {
		return Query{}, fmt.Errorf("%w: unexpected EOF reading question", ErrProtocol)
	}
	qtype := RecordType(binary.BigEndian.Uint16(msg[off : off+2]))
	qclass := Class(binary.BigEndian.Uint16(msg[off+2 : off+4]))

	return Query{
		ID: h.ID,
		RD: h.RD,
		Question: Question{
			Name:  name,
			Type:  qtype,
			Class: qclass,
		},
	}, nil
}

// Response is a fully parsed DNS response message.
type Response struct {
	Header    Header
	Questions []Question
	Answers   []Record
}

// ParseResponse parses a complete DNS response message, requiring at
// least the 12-byte header (spec: ProtocolError on shorter messages).
func ParseResponse(msg []byte) (Response, error) {
	h, err := ParseHeader(msg)
	if err != nil {
		return Response{}, err
	}

	off := HeaderSize
	questions := make([]Question, 0, h.QDCount)
	for i := 0; i < int(h.QDCount); i++ {
		name, n, err := DecodeName(msg, off)
		if err != nil {
			return Response{}, err
		}
		off += n
		if off+4 > len(msg) {
			return Response{}, fmt.Errorf("%w: unexpected EOF reading question", ErrProtocol)
		}
		qtype := RecordType(binary.BigEndian.Uint16(msg[off : off+2]))
		qclass := Class(binary.BigEndian.Uint16(msg[off+2 : off+4]))
		off += 4
		questions = append(questions, Question{Name: name, Type: qtype, Class: qclass})
	}

	answers := make([]Record, 0, h.ANCount)
	for i := 0; i < int(h.ANCount); i++ {
		rec, next, err := ParseRecord(msg, off)
		if err != nil {
			return Response{}, err
		}
		off = next
		answers = append(answers, rec)
	}

	return Response{Header: h, Questions: questions, Answers: answers}, nil
}
