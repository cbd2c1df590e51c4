// SPDX-License-Identifier: GPL-3.0-or-later

package tlswire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameAndParseMessageRoundTrip(t *testing.T) {
	body := []byte("hello handshake body")
	framed := FrameMessage(MessageTypeFinished, body)

	msg, next, err := ParseMessage(framed, 0)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeFinished, msg.Type)
	assert.Equal(t, body, msg.Body)
	assert.Equal(t, len(framed), next)
}

func TestParseMessageRejectsTruncatedHeader(t *testing.T) {
	_, _, err := ParseMessage([]byte{1, 0, 0}, 0)
	require.Error(t, err)
}

func TestParseMessageRejectsTruncatedBody(t *testing.T) {
	buf := []byte{byte(MessageTypeFinished), 0, 0, 10, 1, 2, 3}
	_, _, err := ParseMessage(buf, 0)
	require.Error(t, err)
}

func TestEncodeAndParseExtensionsRoundTrip(t *testing.T) {
	buf := append(
		EncodeExtension(ExtensionServerName, []byte("sni-data")),
		EncodeExtension(ExtensionALPN, []byte("alpn-data"))...,
	)
	exts, err := ParseExtensions(buf)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, ExtensionServerName, exts[0].Type)
	assert.Equal(t, []byte("sni-data"), exts[0].Data)
	assert.Equal(t, ExtensionALPN, exts[1].Type)
	assert.Equal(t, []byte("alpn-data"), exts[1].Data)
}

func TestServerNameExtensionRoundTrip(t *testing.T) {
	payload := EncodeServerNameExtension("example.com")
	name, err := ParseServerNameExtension(payload)
	require.NoError(t, err)
	assert.Equal(t, "example.com", name)
}

func TestSupportedVersionsExtensionServerForm(t *testing.T) {
	data := []byte{0x03, 0x04} // TLS 1.3
	v, err := ParseSupportedVersionsExtension(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0304), v)
}

func TestKeyShareExtensionRoundTrip(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}
	clientPayload := EncodeKeyShareExtension(GroupX25519, pub)

	// strip the client-form outer list length to simulate the server form,
	// which carries a single entry directly.
	require.True(t, len(clientPayload) > 2)
	listLen := binary.BigEndian.Uint16(clientPayload[0:2])
	assert.Equal(t, int(listLen), len(clientPayload)-2)

	entry, err := ParseKeyShareExtensionServer(clientPayload[2:])
	require.NoError(t, err)
	assert.Equal(t, uint16(GroupX25519), entry.Group)
	assert.Equal(t, pub, entry.PublicKey)
}

func TestALPNExtensionRoundTrip(t *testing.T) {
	payload := EncodeALPNExtension([]string{"h2", "http/1.1"})
	protos, err := ParseALPNExtension(payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"h2", "http/1.1"}, protos)
}

func buildServerHelloBody(cipherSuite uint16, exts []byte) []byte {
	body := make([]byte, 0, 64)
	body = append(body, 0x03, 0x03) // legacy_version
	body = append(body, make([]byte, 32)...)
	body = append(body, 0) // empty session id
	var cs [2]byte
	binary.BigEndian.PutUint16(cs[:], cipherSuite)
	body = append(body, cs[:]...)
	body = append(body, 0) // compression method

	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(len(exts)))
	body = append(body, extLen[:]...)
	body = append(body, exts...)
	return body
}

func TestParseServerHello(t *testing.T) {
	exts := EncodeExtension(ExtensionSupportedVersions, []byte{0x03, 0x04})
	body := buildServerHelloBody(0x1301, exts)

	sh, err := ParseServerHello(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0303), sh.LegacyVersion)
	assert.Equal(t, uint16(0x1301), sh.CipherSuite)
	require.Len(t, sh.Extensions, 1)
	assert.Equal(t, ExtensionSupportedVersions, sh.Extensions[0].Type)
}

func TestParseServerHelloRejectsTruncated(t *testing.T) {
	_, err := ParseServerHello([]byte{0x03, 0x03})
	require.Error(t, err)
}

func TestParseEncryptedExtensions(t *testing.T) {
	inner := EncodeExtension(ExtensionALPN, []byte("h2"))
	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(len(inner)))
	body := append(extLen[:], inner...)

	exts, err := ParseEncryptedExtensions(body)
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, ExtensionALPN, exts[0].Type)
}

func buildCertEntry(certData []byte) []byte {
	var lenBuf [3]byte
	lenBuf[0] = byte(len(certData) >> 16)
	lenBuf[1] = byte(len(certData) >> 8)
	lenBuf[2] = byte(len(certData))
	out := append([]byte{}, lenBuf[:]...)
	out = append(out, certData...)
	out = append(out, 0, 0) // no per-certificate extensions
	return out
}

func TestParseCertificateMessage(t *testing.T) {
	entry := buildCertEntry([]byte("fake-der-cert-bytes"))

	var listLenBuf [3]byte
	listLenBuf[0] = byte(len(entry) >> 16)
	listLenBuf[1] = byte(len(entry) >> 8)
	listLenBuf[2] = byte(len(entry))

	body := []byte{0} // empty certificate_request_context
	body = append(body, listLenBuf[:]...)
	body = append(body, entry...)

	msg, err := ParseCertificateMessage(body)
	require.NoError(t, err)
	require.Len(t, msg.Entries, 1)
	assert.Equal(t, []byte("fake-der-cert-bytes"), msg.Entries[0].CertData)
}

func TestParseCertificateVerify(t *testing.T) {
	sig := []byte("fake-signature-bytes")
	body := []byte{0x08, 0x04} // ecdsa_secp256r1_sha256
	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(sig)))
	body = append(body, sigLen[:]...)
	body = append(body, sig...)

	cv, err := ParseCertificateVerify(body)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0804), cv.Algorithm)
	assert.Equal(t, sig, cv.Signature)
}

func TestParseFinishedReturnsVerbatim(t *testing.T) {
	data := []byte("verify-data-bytes")
	assert.Equal(t, data, ParseFinished(data))
}

func TestParseNewSessionTicket(t *testing.T) {
	ticket := []byte("opaque-ticket-bytes")
	nonce := []byte{0x01, 0x02}

	body := make([]byte, 0, 32)
	body = append(body, 0, 0, 0x0e, 0x10) // lifetime = 3600
	body = append(body, 0, 0, 0, 1)       // age_add
	body = append(body, byte(len(nonce)))
	body = append(body, nonce...)
	var ticketLen [2]byte
	binary.BigEndian.PutUint16(ticketLen[:], uint16(len(ticket)))
	body = append(body, ticketLen[:]...)
	body = append(body, ticket...)
	body = append(body, 0, 0) // no ticket extensions

	nst, err := ParseNewSessionTicket(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(3600), nst.LifetimeSeconds)
	assert.Equal(t, uint32(1), nst.AgeAdd)
	assert.Equal(t, nonce, nst.Nonce)
	assert.Equal(t, ticket, nst.Ticket)
}
