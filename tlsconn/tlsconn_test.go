// SPDX-License-Identifier: GPL-3.0-or-later

package tlsconn

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webengine-project/netcore/keyschedule"
	"github.com/webengine-project/netcore/tlswire"
)

// recordingHandler is a [slog.Handler] that appends every logged
// [slog.Record] to a shared slice, mirroring the root package's test
// double of the same name.
type recordingHandler struct {
	records *[]slog.Record
}

func (h recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h recordingHandler) Handle(_ context.Context, r slog.Record) error {
	*h.records = append(*h.records, r)
	return nil
}

func (h recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h recordingHandler) WithGroup(string) slog.Handler { return h }

func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	records := &[]slog.Record{}
	return slog.New(recordingHandler{records: records}), records
}

// --- minimal DER cert encoder, mirroring x509lite_test.go's style ---

func derLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var octets []byte
	for v := n; v > 0; v >>= 8 {
		octets = append([]byte{byte(v)}, octets...)
	}
	return append([]byte{byte(0x80 | len(octets))}, octets...)
}

func derTLV(tag byte, content []byte) []byte {
	out := append([]byte{tag}, derLength(len(content))...)
	return append(out, content...)
}

func derInt(v byte) []byte          { return derTLV(0x02, []byte{v}) }
func derOIDSig() []byte             { return derTLV(0x06, []byte{0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x01, 0x01, 0x0B}) }
func derPrintable(s string) []byte  { return derTLV(0x13, []byte(s)) }
func derUTCTime(s string) []byte    { return derTLV(0x17, []byte(s)) }
func derBitString(b []byte) []byte  { return derTLV(0x03, append([]byte{0}, b...)) }
func derSeq(parts ...[]byte) []byte {
	var content []byte
	for _, p := range parts {
		content = append(content, p...)
	}
	return derTLV(0x30, content)
}
func derSet(parts ...[]byte) []byte {
	var content []byte
	for _, p := range parts {
		content = append(content, p...)
	}
	return derTLV(0x31, content)
}
func derRDN(value []byte) []byte {
	oid := derTLV(0x06, []byte{0x55, 0x04, 0x03}) // CN
	return derSet(derSeq(oid, value))
}
func derName(cn string) []byte { return derSeq(derRDN(derPrintable(cn))) }

func buildServerTestCertificate(cn string) []byte {
	sigAlgSeq := derSeq(derOIDSig())
	spki := derSeq(sigAlgSeq, derBitString([]byte{0x01, 0x02, 0x03, 0x04}))
	tbs := derSeq(
		derInt(0x01),
		sigAlgSeq,
		derName("Test CA"),
		derSeq(derUTCTime("240101000000Z"), derUTCTime("300101000000Z")),
		derName(cn),
		spki,
	)
	return derSeq(tbs, sigAlgSeq, derBitString([]byte{0xAA, 0xBB}))
}

// --- hand-rolled server side of the handshake, symmetric to Conn's client side ---

type serverSideKeys struct {
	key []byte
	iv  []byte
	seq uint64
}

func newServerSideKeys(secret []byte) *serverSideKeys {
	return &serverSideKeys{key: secret[:16], iv: secret[16:28]}
}

func (k *serverSideKeys) nonce() []byte {
	nonce := make([]byte, len(k.iv))
	copy(nonce, k.iv)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], k.seq)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= seqBuf[i]
	}
	k.seq++
	return nonce
}

func (k *serverSideKeys) aead(t *testing.T) cipher.AEAD {
	block, err := aes.NewCipher(k.key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	return gcm
}

func writeRawRecord(t *testing.T, conn net.Conn, recordType uint8, body []byte) {
	t.Helper()
	header := make([]byte, 5)
	header[0] = recordType
	binary.BigEndian.PutUint16(header[1:3], legacyRecordVersion)
	binary.BigEndian.PutUint16(header[3:5], uint16(len(body)))
	_, err := conn.Write(header)
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)
}

func readRawRecord(t *testing.T, conn net.Conn) (uint8, []byte) {
	t.Helper()
	header := make([]byte, 5)
	_, err := readFull(conn, header)
	require.NoError(t, err)
	length := int(binary.BigEndian.Uint16(header[3:5]))
	body := make([]byte, length)
	_, err = readFull(conn, body)
	require.NoError(t, err)
	return header[0], body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// runHandshakeServer drives the server side of a TLS 1.3 handshake over
// conn, symmetric to Conn.Handshake, and then echoes one application
// data record back to the client.
func runHandshakeServer(t *testing.T, conn net.Conn) {
	t.Helper()

	// 1. read ClientHello
	recordType, chBody := readRawRecord(t, conn)
	require.EqualValues(t, recordTypeHandshake, recordType)
	chMsg, _, err := tlswire.ParseMessage(chBody, 0)
	require.NoError(t, err)
	require.Equal(t, tlswire.MessageTypeClientHello, chMsg.Type)

	clientPub := extractClientKeyShare(t, chMsg.Body)

	transcript := append([]byte{}, chBody...)

	// 2. build and send ServerHello
	serverPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)

	shBody := make([]byte, 0, 64)
	shBody = append(shBody, 0x03, 0x03)
	random := make([]byte, 32)
	shBody = append(shBody, random...)
	shBody = append(shBody, 0) // session id

	var cs [2]byte
	binary.BigEndian.PutUint16(cs[:], uint16(SuiteAES128GCMSHA256))
	shBody = append(shBody, cs[:]...)
	shBody = append(shBody, 0) // compression

	svExt := tlswire.EncodeExtension(tlswire.ExtensionSupportedVersions, []byte{0x03, 0x04})
	ksEntry := make([]byte, 4+len(serverPriv.PublicKey().Bytes()))
	binary.BigEndian.PutUint16(ksEntry[0:2], tlswire.GroupX25519)
	binary.BigEndian.PutUint16(ksEntry[2:4], uint16(len(serverPriv.PublicKey().Bytes())))
	copy(ksEntry[4:], serverPriv.PublicKey().Bytes())
	ksExt := tlswire.EncodeExtension(tlswire.ExtensionKeyShare, ksEntry)

	exts := append(append([]byte{}, svExt...), ksExt...)
	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(len(exts)))
	shBody = append(shBody, extLen[:]...)
	shBody = append(shBody, exts...)

	shMsg := tlswire.FrameMessage(tlswire.MessageTypeServerHello, shBody)
	writeRawRecord(t, conn, recordTypeHandshake, shMsg)
	transcript = append(transcript, shMsg...)

	// 3. derive handshake secrets
	peerKey, err := ecdh.X25519().NewPublicKey(clientPub)
	require.NoError(t, err)
	shared, err := serverPriv.ECDH(peerKey)
	require.NoError(t, err)

	hsHash := sha256.Sum256(transcript)
	sched := keyschedule.DeriveSchedule13(shared, hsHash[:], hsHash[:])

	sendKeys := newServerSideKeys(sched.ServerHandshakeTrafficSecret)
	recvKeys := newServerSideKeys(sched.ClientHandshakeTrafficSecret)
	sendAEAD := sendKeys.aead(t)
	recvAEAD := recvKeys.aead(t)

	sendEncrypted := func(msgType tlswire.MessageType, body []byte) []byte {
		framed := tlswire.FrameMessage(msgType, body)
		plaintext := append(append([]byte{}, framed...), recordTypeHandshake)
		ciphertext := sendAEAD.Seal(nil, sendKeys.nonce(), plaintext, nil)
		writeRawRecord(t, conn, recordTypeApplicationData, ciphertext)
		return framed
	}

	// 4. EncryptedExtensions (empty)
	transcript = append(transcript, sendEncrypted(tlswire.MessageTypeEncryptedExtensions, []byte{0, 0})...)

	// 5. Certificate
	certDER := buildServerTestCertificate("example.com")
	var certLen [3]byte
	certLen[0] = byte(len(certDER) >> 16)
	certLen[1] = byte(len(certDER) >> 8)
	certLen[2] = byte(len(certDER))
	certEntry := append(append([]byte{}, certLen[:]...), certDER...)
	certEntry = append(certEntry, 0, 0) // no per-cert extensions

	var listLen [3]byte
	listLen[0] = byte(len(certEntry) >> 16)
	listLen[1] = byte(len(certEntry) >> 8)
	listLen[2] = byte(len(certEntry))
	certBody := append([]byte{0}, listLen[:]...)
	certBody = append(certBody, certEntry...)

	transcript = append(transcript, sendEncrypted(tlswire.MessageTypeCertificate, certBody)...)

	// 6. Finished
	finishedKey := keyschedule.ExpandLabel(sched.ServerHandshakeTrafficSecret, "finished", nil, keyschedule.HashLen)
	transcriptHash := sha256.Sum256(transcript)
	verifyData := hmacSHA256(finishedKey, transcriptHash[:])
	finishedFramed := sendEncrypted(tlswire.MessageTypeFinished, verifyData)
	transcript = append(transcript, finishedFramed...)
	afterServerFinishedHash := sha256.Sum256(transcript)

	// 7. read and verify client's Finished
	recordType, ciphertext := readRawRecord(t, conn)
	require.EqualValues(t, recordTypeApplicationData, recordType)
	plaintext, err := recvAEAD.Open(nil, recvKeys.nonce(), ciphertext, nil)
	require.NoError(t, err)
	innerType := plaintext[len(plaintext)-1]
	require.EqualValues(t, recordTypeHandshake, innerType)
	clientFinishedMsg, _, err := tlswire.ParseMessage(plaintext[:len(plaintext)-1], 0)
	require.NoError(t, err)
	require.Equal(t, tlswire.MessageTypeFinished, clientFinishedMsg.Type)

	clientFinishedKey := keyschedule.ExpandLabel(sched.ClientHandshakeTrafficSecret, "finished", nil, keyschedule.HashLen)
	expectedClientVerifyData := hmacSHA256(clientFinishedKey, afterServerFinishedHash[:])
	assert.Equal(t, expectedClientVerifyData, clientFinishedMsg.Body)

	// 8. read one application-data record from the client, echo it back
	recordType, ciphertext = readRawRecord(t, conn)
	require.EqualValues(t, recordTypeApplicationData, recordType)
	appPlain, err := recvAEAD.Open(nil, recvKeys.nonce(), ciphertext, nil)
	require.NoError(t, err)
	require.EqualValues(t, recordTypeApplicationData, appPlain[len(appPlain)-1])

	echoPlain := append(append([]byte{}, appPlain[:len(appPlain)-1]...), recordTypeApplicationData)
	echoCiphertext := sendAEAD.Seal(nil, sendKeys.nonce(), echoPlain, nil)
	writeRawRecord(t, conn, recordTypeApplicationData, echoCiphertext)
}

// extractClientKeyShare parses a ClientHello body to find its key_share
// extension's public key.
func extractClientKeyShare(t *testing.T, body []byte) []byte {
	t.Helper()
	off := 2 + 32 // legacy_version + random
	sessionIDLen := int(body[off])
	off += 1 + sessionIDLen
	cipherSuitesLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2 + cipherSuitesLen
	off += 2 // compression methods (length=1, method=0)
	extLen := int(binary.BigEndian.Uint16(body[off : off+2]))
	off += 2
	exts, err := tlswire.ParseExtensions(body[off : off+extLen])
	require.NoError(t, err)
	for _, ext := range exts {
		if ext.Type == tlswire.ExtensionKeyShare {
			listLen := binary.BigEndian.Uint16(ext.Data[0:2])
			require.EqualValues(t, int(listLen), len(ext.Data)-2)
			entry, err := tlswire.ParseKeyShareExtensionServer(ext.Data[2:])
			require.NoError(t, err)
			return entry.PublicKey
		}
	}
	t.Fatal("client key_share extension not found")
	return nil
}

func TestHandshakeEstablishesAndExchangesApplicationData(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		runHandshakeServer(t, serverConn)
	}()

	config := NewConfig("example.com")
	config.VerifyPeerCertificate = false
	conn := New(clientConn, config)

	err := conn.Handshake()
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, conn.State())
	require.NotNil(t, conn.PeerCertificate)
	assert.Equal(t, "example.com", conn.PeerCertificate.Subject.CN)

	n, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	<-serverDone
}

// Write and Read on the established record layer emit their own
// Start/Done events, independent of the handshake's own Info logging
// (which lives in root tlshandshake.go, not here).
func TestRecordLayerLogsReadAndWrite(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		runHandshakeServer(t, serverConn)
	}()

	config := NewConfig("example.com")
	config.VerifyPeerCertificate = false
	logger, records := newCapturingLogger()
	config.Logger = logger
	conn := New(clientConn, config)

	require.NoError(t, conn.Handshake())

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	<-serverDone

	var names []string
	for _, r := range *records {
		names = append(names, r.Message)
	}
	assert.Contains(t, names, "tlsWriteStart")
	assert.Contains(t, names, "tlsWriteDone")
	assert.Contains(t, names, "tlsReadStart")
	assert.Contains(t, names, "tlsReadDone")
}

// stubConn is a [net.Conn] fake whose Close is driven by a function
// field, for testing Conn.Close's logging without a real handshake.
type stubConn struct {
	closeFunc func() error
}

func (c *stubConn) Read(b []byte) (int, error)       { return 0, io.EOF }
func (c *stubConn) Write(b []byte) (int, error)      { return len(b), nil }
func (c *stubConn) Close() error                     { return c.closeFunc() }
func (c *stubConn) LocalAddr() net.Addr              { return nil }
func (c *stubConn) RemoteAddr() net.Addr             { return nil }
func (c *stubConn) SetDeadline(time.Time) error      { return nil }
func (c *stubConn) SetReadDeadline(time.Time) error  { return nil }
func (c *stubConn) SetWriteDeadline(time.Time) error { return nil }

// Close emits a tlsCloseStart/tlsCloseDone pair at Info, even when the
// connection never reached StateEstablished (so no close_notify alert
// is sent, only the underlying connection is closed).
func TestCloseLogsStartAndDone(t *testing.T) {
	underlying := &stubConn{closeFunc: func() error { return nil }}
	config := NewConfig("example.com")
	logger, records := newCapturingLogger()
	config.Logger = logger
	conn := New(underlying, config)

	require.NoError(t, conn.Close())

	require.Len(t, *records, 2)
	assert.Equal(t, "tlsCloseStart", (*records)[0].Message)
	assert.Equal(t, "tlsCloseDone", (*records)[1].Message)
}

func TestHandshakeRequiresNoneState(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	config := NewConfig("example.com")
	conn := New(clientConn, config)
	conn.state = StateEstablished

	go func() {
		buf := make([]byte, 1024)
		serverConn.Read(buf)
	}()

	err := conn.Handshake()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestWriteRequiresEstablishedState(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	conn := New(clientConn, NewConfig("example.com"))
	_, err := conn.Write([]byte("hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAlertDescriptionValues(t *testing.T) {
	assert.EqualValues(t, 0, AlertCloseNotify)
	assert.EqualValues(t, 42, AlertBadCertificate)
	assert.EqualValues(t, 90, AlertUserCanceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ESTABLISHED", StateEstablished.String())
	assert.Equal(t, "ERROR", StateError.String())
}
