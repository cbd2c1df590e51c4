// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: the spec's own §4.7 RFC 8446 §7.1/RFC 5246 §5 prose.
// HKDF-Extract/Expand delegates to golang.org/x/crypto/hkdf, a real
// pack dependency; Expand-Label/Derive-Secret and the TLS 1.2 PRF are
// hand-rolled on top of it, per spec.

// Package keyschedule implements the TLS 1.2 PRF and the TLS 1.3 HKDF
// key schedule of §4.7.
package keyschedule

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/hkdf"
)

// HashLen is the SHA-256 output length used throughout the TLS 1.3
// schedule in this core.
const HashLen = sha256.Size

func newSHA256() hash.Hash { return sha256.New() }

// P_SHA256 is the standard A-iteration PRF construction: A(0) =
// label||seed, A(i) = HMAC(secret, A(i-1)); output is the
// concatenation of HMAC(secret, A(i)||label||seed) truncated to length.
func P_SHA256(secret, labelSeed []byte, length int) []byte {
	out := make([]byte, 0, length+sha256.Size)
	a := labelSeed
	for len(out) < length {
		a = hmacSum(secret, a)
		out = append(out, hmacSum(secret, append(append([]byte{}, a...), labelSeed...))...)
	}
	return out[:length]
}

// PRF implements the TLS 1.2 pseudo-random function: PRF(secret, label,
// seed) = P_SHA256(secret, label||seed).
func PRF(secret []byte, label string, seed []byte, length int) []byte {
	labelSeed := append([]byte(label), seed...)
	return P_SHA256(secret, labelSeed, length)
}

// MasterSecret12 computes the TLS 1.2 master secret from the
// pre-master secret and the client/server randoms.
func MasterSecret12(pms, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	return PRF(pms, "master secret", seed, 48)
}

// SessionKeys12 is the ordered split of TLS 1.2 key-expansion output.
type SessionKeys12 struct {
	ClientMAC, ServerMAC   []byte
	ClientKey, ServerKey   []byte
	ClientIV, ServerIV     []byte
}

// KeyLengths describes the per-cipher key/IV/MAC sizes of §4.7.
type KeyLengths struct {
	KeyLen int
	IVLen  int
	MACLen int
}

// Known cipher-family key lengths, per §4.7.
var (
	AES128 = KeyLengths{KeyLen: 16, IVLen: 12, MACLen: 0}
	AES256 = KeyLengths{KeyLen: 32, IVLen: 12, MACLen: 0}
	ChaCha20Family = KeyLengths{KeyLen: 32, IVLen: 12, MACLen: 0}
)

// DeriveSessionKeys12 expands masterSecret into session keys with label
// "key expansion" and seed serverRandom||clientRandom, splitting in
// order clientMAC, serverMAC, clientKey, serverKey, clientIV, serverIV.
// For AEAD ciphers (MACLen == 0), the MAC slices are empty.
func DeriveSessionKeys12(masterSecret, clientRandom, serverRandom []byte, lengths KeyLengths) SessionKeys12 {
	seed := append(append([]byte{}, serverRandom...), clientRandom...)
	total := 2*lengths.MACLen + 2*lengths.KeyLen + 2*lengths.IVLen
	block := PRF(masterSecret, "key expansion", seed, total)

	var keys SessionKeys12
	off := 0
	keys.ClientMAC, off = block[off:off+lengths.MACLen], off+lengths.MACLen
	keys.ServerMAC, off = block[off:off+lengths.MACLen], off+lengths.MACLen
	keys.ClientKey, off = block[off:off+lengths.KeyLen], off+lengths.KeyLen
	keys.ServerKey, off = block[off:off+lengths.KeyLen], off+lengths.KeyLen
	keys.ClientIV, off = block[off:off+lengths.IVLen], off+lengths.IVLen
	keys.ServerIV, _ = block[off:off+lengths.IVLen], off+lengths.IVLen
	return keys
}

func hmacSum(key, data []byte) []byte {
	mac := hmac.New(newSHA256, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Extract performs HKDF-Extract(salt, ikm) via golang.org/x/crypto/hkdf.
func Extract(salt, ikm []byte) []byte {
	return hkdf.Extract(newSHA256, ikm, salt)
}

// ExpandLabel implements HKDF-Expand-Label(secret, label, context, L)
// per RFC 8446 §7.1: prepends "tls13 " to label and encodes the
// HkdfLabel struct {uint16 L; opaque label<7..255>; opaque context<0..255>}.
func ExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label

	info := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	var lengthBuf [2]byte
	binary.BigEndian.PutUint16(lengthBuf[:], uint16(length))
	info = append(info, lengthBuf[:]...)
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	out := make([]byte, length)
	reader := hkdf.Expand(newSHA256, secret, info)
	_, _ = reader.Read(out)
	return out
}

// DeriveSecret implements Derive-Secret(secret, label, messages) =
// ExpandLabel(secret, label, Hash(messages), HashLen).
func DeriveSecret(secret []byte, label string, transcriptHash []byte) []byte {
	return ExpandLabel(secret, label, transcriptHash, HashLen)
}

// emptyHash is the SHA-256 hash of the empty string, used for
// Derive-Secret(..., "") per the early/handshake secret derivations.
func emptyHash() []byte {
	h := sha256.Sum256(nil)
	return h[:]
}

// Schedule13 holds the full TLS 1.3 key schedule of §4.7.
type Schedule13 struct {
	EarlySecret     []byte
	HandshakeSecret []byte
	MasterSecret    []byte

	ClientHandshakeTrafficSecret []byte
	ServerHandshakeTrafficSecret []byte
	ClientApplicationTrafficSecret []byte
	ServerApplicationTrafficSecret []byte
}

// DeriveSchedule13 runs the full HKDF schedule given the ECDHE shared
// secret, the transcript hash at the point the handshake secrets are
// needed (ClientHello..ServerHello), and the full transcript hash
// (ClientHello..server Finished) for the application secrets.
func DeriveSchedule13(sharedSecret, handshakeTranscriptHash, fullTranscriptHash []byte) Schedule13 {
	zeros := make([]byte, HashLen)

	earlySecret := Extract(zeros, zeros)
	derivedEarly := DeriveSecret(earlySecret, "derived", emptyHash())
	handshakeSecret := Extract(derivedEarly, sharedSecret)

	clientHS := DeriveSecret(handshakeSecret, "c hs traffic", handshakeTranscriptHash)
	serverHS := DeriveSecret(handshakeSecret, "s hs traffic", handshakeTranscriptHash)

	derivedHandshake := DeriveSecret(handshakeSecret, "derived", emptyHash())
	masterSecret := Extract(derivedHandshake, zeros)

	clientAP := DeriveSecret(masterSecret, "c ap traffic", fullTranscriptHash)
	serverAP := DeriveSecret(masterSecret, "s ap traffic", fullTranscriptHash)

	return Schedule13{
		EarlySecret:                    earlySecret,
		HandshakeSecret:                handshakeSecret,
		MasterSecret:                   masterSecret,
		ClientHandshakeTrafficSecret:   clientHS,
		ServerHandshakeTrafficSecret:   serverHS,
		ClientApplicationTrafficSecret: clientAP,
		ServerApplicationTrafficSecret: serverAP,
	}
}
