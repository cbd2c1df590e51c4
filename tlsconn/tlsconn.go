// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: the socket package's explicit state machine and
// mutex-guarded stats idiom (socket/socket.go), generalized to the TLS
// 1.3 handshake/record-layer state machine of §4.8. AEAD record
// encryption uses crypto/aes + crypto/cipher (AES-GCM) and
// golang.org/x/crypto/chacha20poly1305, both real pack dependencies.
// Key agreement uses crypto/ecdh (X25519).

// Package tlsconn implements a from-scratch TLS 1.3 client connection:
// handshake state machine, ECDHE key agreement, HKDF-derived traffic
// keys, and an AEAD record layer, per §4.8.
package tlsconn

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/webengine-project/netcore/certvalidate"
	"github.com/webengine-project/netcore/internal/errclass"
	"github.com/webengine-project/netcore/internal/safeconn"
	"github.com/webengine-project/netcore/keyschedule"
	"github.com/webengine-project/netcore/tlswire"
	"github.com/webengine-project/netcore/x509lite"
)

// SLogger abstracts the logging behavior Conn needs for its record layer.
// Structurally compatible with, but not the same type as, the root
// package's SLogger: this package cannot import netcore without creating
// an import cycle (netcore imports tlsconn via TLSHandshakeFunc).
type SLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// discardLogger is the default SLogger: it discards everything.
type discardLogger struct{}

func (discardLogger) Debug(msg string, args ...any) {}
func (discardLogger) Info(msg string, args ...any)  {}

// ErrClassifier classifies errors for structured logging. Structurally
// compatible with the root package's ErrClassifier for the same reason
// as SLogger above.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string { return f(err) }

var defaultErrClassifier = ErrClassifierFunc(errclass.New)

// State is a [Conn] handshake lifecycle state.
type State int

// Handshake states, per §4.8.
const (
	StateNone State = iota
	StateClientHello
	StateServerHello
	StateCertificate
	StateKeyExchange
	StateEstablished
	StateError
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateClientHello:
		return "CLIENT_HELLO"
	case StateServerHello:
		return "SERVER_HELLO"
	case StateCertificate:
		return "CERTIFICATE"
	case StateKeyExchange:
		return "KEY_EXCHANGE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidState is returned when an operation is attempted from a
// state that does not permit it.
var ErrInvalidState = errors.New("tlsconn: invalid state for operation")

// ErrHandshake wraps every handshake-negotiation failure.
var ErrHandshake = errors.New("tlsconn: handshake failed")

// ErrRecord wraps every record-layer failure.
var ErrRecord = errors.New("tlsconn: record layer error")

// AlertDescription is a single-byte TLS alert description, per §6.
type AlertDescription uint8

// Alert descriptions, per §6.
const (
	AlertCloseNotify            AlertDescription = 0
	AlertUnexpectedMessage      AlertDescription = 10
	AlertBadRecordMAC           AlertDescription = 20
	AlertRecordOverflow         AlertDescription = 22
	AlertHandshakeFailure       AlertDescription = 40
	AlertBadCertificate         AlertDescription = 42
	AlertUnsupportedCertificate AlertDescription = 43
	AlertCertificateRevoked     AlertDescription = 44
	AlertCertificateExpired     AlertDescription = 45
	AlertCertificateUnknown     AlertDescription = 46
	AlertIllegalParameter       AlertDescription = 47
	AlertUnknownCA              AlertDescription = 48
	AlertAccessDenied           AlertDescription = 49
	AlertDecodeError            AlertDescription = 50
	AlertDecryptError           AlertDescription = 51
	AlertProtocolVersion        AlertDescription = 70
	AlertInsufficientSecurity   AlertDescription = 71
	AlertInternalError          AlertDescription = 80
	AlertUserCanceled           AlertDescription = 90
)

// record content types, per RFC 8446 §5.
const (
	recordTypeAlert          = 21
	recordTypeHandshake      = 22
	recordTypeApplicationData = 23
)

const legacyRecordVersion = 0x0303

// cipherSuite identifies a negotiated TLS 1.3 AEAD cipher suite.
type cipherSuite uint16

// Supported TLS 1.3 cipher suites, per §6's four 1.3 suites.
const (
	SuiteAES128GCMSHA256       cipherSuite = 0x1301
	SuiteAES256GCMSHA384       cipherSuite = 0x1302
	SuiteChaCha20Poly1305SHA256 cipherSuite = 0x1303
	SuiteAES128CCMSHA256       cipherSuite = 0x1304
)

// Config configures a [Conn]'s handshake.
type Config struct {
	ServerName            string
	CipherSuites          []cipherSuite
	ALPNProtocols         []string
	VerifyPeerCertificate bool
	TrustedCAs            []*x509lite.Certificate
	TimeNow               func() time.Time

	// Logger is the SLogger the record layer's per-I/O events (read,
	// write, close) are logged to.
	Logger SLogger

	// ErrClassifier classifies errors for the log events above.
	ErrClassifier ErrClassifier
}

// NewConfig returns a [Config] with the defaults of §6: TLS 1.3-only
// (implicit), the four 1.3 suites, verification enabled, ALPN
// "http/1.1".
func NewConfig(serverName string) *Config {
	return &Config{
		ServerName: serverName,
		CipherSuites: []cipherSuite{
			SuiteAES128GCMSHA256, SuiteAES256GCMSHA384,
			SuiteChaCha20Poly1305SHA256, SuiteAES128CCMSHA256,
		},
		ALPNProtocols:         []string{"http/1.1"},
		VerifyPeerCertificate: true,
		TimeNow:               time.Now,
		Logger:                discardLogger{},
		ErrClassifier:         defaultErrClassifier,
	}
}

// trafficKeys holds one direction's AEAD key/IV, derived per §4.8 step
// 4: the first 16 bytes of the handshake traffic secret as key, bytes
// 16..28 as IV. This core always uses a 16-byte key and 12-byte IV
// regardless of negotiated suite, matching the spec's fixed derivation.
type trafficKeys struct {
	secret []byte
	key    []byte
	iv     []byte
	seq    uint64
	aead   cipher.AEAD
}

func newTrafficKeys(secret []byte, suite cipherSuite) (*trafficKeys, error) {
	key := secret[:16]
	iv := secret[16:28]
	aead, err := newAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	return &trafficKeys{secret: secret, key: key, iv: iv, aead: aead}, nil
}

func newAEAD(suite cipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case SuiteChaCha20Poly1305SHA256:
		return chacha20poly1305.New(padOrTrim(key, chacha20poly1305.KeySize))
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

// padOrTrim normalizes a key derived as 16 bytes per §4.8 into the
// length an AEAD constructor requires, zero-extending if needed.
func padOrTrim(key []byte, length int) []byte {
	if len(key) == length {
		return key
	}
	out := make([]byte, length)
	copy(out, key)
	return out
}

func (tk *trafficKeys) nonce() []byte {
	nonce := make([]byte, len(tk.iv))
	copy(nonce, tk.iv)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], tk.seq)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= seqBuf[i]
	}
	tk.seq++
	return nonce
}

// Conn is a client-side TLS 1.3 connection over an underlying
// [net.Conn], implementing the handshake state machine and AEAD
// record layer of §4.8.
type Conn struct {
	underlying net.Conn
	config     *Config
	state      State

	clientRandom []byte
	privKey      *ecdh.PrivateKey

	transcript []byte
	suite      cipherSuite

	clientKeys *trafficKeys
	serverKeys *trafficKeys

	PeerCertificate *x509lite.Certificate
	NegotiatedALPN  string

	readBuf []byte

	// SpanID correlates this connection's record-layer log events with
	// the handshake that established it. Left empty unless the caller
	// (typically the handshake driver) sets it before first use.
	SpanID string
}

// New wraps underlying in a client [Conn] in [StateNone].
func New(underlying net.Conn, config *Config) *Conn {
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	if config.Logger == nil {
		config.Logger = discardLogger{}
	}
	if config.ErrClassifier == nil {
		config.ErrClassifier = defaultErrClassifier
	}
	return &Conn{underlying: underlying, config: config, state: StateNone}
}

// State returns the connection's current handshake state.
func (c *Conn) State() State { return c.state }

// Handshake runs the client handshake of §4.8 steps 1-5, driving the
// state machine NONE -> CLIENT_HELLO -> SERVER_HELLO -> CERTIFICATE ->
// KEY_EXCHANGE -> ESTABLISHED.
func (c *Conn) Handshake() error {
	if c.state != StateNone {
		return fmt.Errorf("%w: handshake requires NONE, have %s", ErrInvalidState, c.state)
	}

	if err := c.sendClientHello(); err != nil {
		c.state = StateError
		return err
	}
	c.state = StateClientHello

	sh, err := c.readServerHello()
	if err != nil {
		c.state = StateError
		return err
	}
	c.state = StateServerHello

	// Handshake traffic keys must be derived from the CH||SH transcript
	// before the encrypted messages that follow ServerHello can be
	// read; the CERTIFICATE/KEY_EXCHANGE state labels below still
	// follow the spec's named order even though both depend on this.
	if err := c.deriveHandshakeKeys(sh); err != nil {
		c.state = StateError
		return err
	}

	certMsg, finishedBody, err := c.readServerMessages()
	if err != nil {
		c.state = StateError
		return err
	}
	c.state = StateCertificate

	if err := c.validatePeerCertificate(certMsg); err != nil {
		c.state = StateError
		return err
	}
	c.state = StateKeyExchange

	if err := c.verifyServerFinished(finishedBody); err != nil {
		c.state = StateError
		return err
	}
	if err := c.sendClientFinished(); err != nil {
		c.state = StateError
		return err
	}

	c.state = StateEstablished
	return nil
}

func (c *Conn) sendClientHello() error {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return fmt.Errorf("%w: client random: %v", ErrHandshake, err)
	}
	c.clientRandom = random

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("%w: x25519 keygen: %v", ErrHandshake, err)
	}
	c.privKey = priv

	exts := append([]byte{}, tlswire.EncodeExtension(tlswire.ExtensionServerName, tlswire.EncodeServerNameExtension(c.config.ServerName))...)
	exts = append(exts, tlswire.EncodeExtension(tlswire.ExtensionSupportedVersions, tlswire.EncodeSupportedVersionsExtension(0x0304))...)
	exts = append(exts, tlswire.EncodeExtension(tlswire.ExtensionKeyShare, tlswire.EncodeKeyShareExtension(tlswire.GroupX25519, priv.PublicKey().Bytes()))...)
	if len(c.config.ALPNProtocols) > 0 {
		exts = append(exts, tlswire.EncodeExtension(tlswire.ExtensionALPN, tlswire.EncodeALPNExtension(c.config.ALPNProtocols))...)
	}

	body := make([]byte, 0, 128)
	body = append(body, 0x03, 0x03) // legacy_version
	body = append(body, random...)
	body = append(body, 0) // empty legacy_session_id

	var suiteBuf []byte
	for _, s := range c.config.CipherSuites {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(s))
		suiteBuf = append(suiteBuf, b[:]...)
	}
	var suiteLen [2]byte
	binary.BigEndian.PutUint16(suiteLen[:], uint16(len(suiteBuf)))
	body = append(body, suiteLen[:]...)
	body = append(body, suiteBuf...)

	body = append(body, 1, 0) // compression methods: length 1, method 0

	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(len(exts)))
	body = append(body, extLen[:]...)
	body = append(body, exts...)

	msg := tlswire.FrameMessage(tlswire.MessageTypeClientHello, body)
	c.transcript = append(c.transcript, msg...)
	return c.writeRecord(recordTypeHandshake, msg)
}

func (c *Conn) readServerHello() (tlswire.ServerHello, error) {
	msg, err := c.readHandshakeMessage()
	if err != nil {
		return tlswire.ServerHello{}, err
	}
	if msg.Type != tlswire.MessageTypeServerHello {
		return tlswire.ServerHello{}, fmt.Errorf("%w: expected ServerHello, got type %d", ErrHandshake, msg.Type)
	}
	sh, err := tlswire.ParseServerHello(msg.Body)
	if err != nil {
		return tlswire.ServerHello{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	c.suite = cipherSuite(sh.CipherSuite)
	return sh, nil
}

// readServerMessages reads EncryptedExtensions, Certificate, and
// Finished in order, per §4.8 step 2. CertificateVerify, if present
// between Certificate and Finished, is skipped (this core trusts the
// chain validation of §4.6 rather than the CertificateVerify signature).
func (c *Conn) readServerMessages() (tlswire.CertificateMessage, []byte, error) {
	var certMsg tlswire.CertificateMessage
	var finishedBody []byte
	sawCert := false

	for i := 0; i < 4; i++ {
		msg, err := c.readHandshakeMessage()
		if err != nil {
			return certMsg, nil, err
		}
		switch msg.Type {
		case tlswire.MessageTypeEncryptedExtensions:
			if _, err := tlswire.ParseEncryptedExtensions(msg.Body); err != nil {
				return certMsg, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
			}
		case tlswire.MessageTypeCertificate:
			parsed, err := tlswire.ParseCertificateMessage(msg.Body)
			if err != nil {
				return certMsg, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
			}
			certMsg = parsed
			sawCert = true
		case tlswire.MessageTypeCertificateVerify:
			// signature already covered by chain validation; skip.
		case tlswire.MessageTypeFinished:
			finishedBody = tlswire.ParseFinished(msg.Body)
			if sawCert {
				return certMsg, finishedBody, nil
			}
			return certMsg, finishedBody, fmt.Errorf("%w: Finished before Certificate", ErrHandshake)
		default:
			return certMsg, nil, fmt.Errorf("%w: unexpected message type %d", ErrHandshake, msg.Type)
		}
	}
	return certMsg, nil, fmt.Errorf("%w: server handshake did not complete", ErrHandshake)
}

func (c *Conn) validatePeerCertificate(certMsg tlswire.CertificateMessage) error {
	if len(certMsg.Entries) == 0 {
		return fmt.Errorf("%w: no certificate presented", ErrHandshake)
	}
	leaf, err := x509lite.Parse(certMsg.Entries[0].CertData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	c.PeerCertificate = leaf

	if !c.config.VerifyPeerCertificate {
		return nil
	}
	return certvalidate.Validate(leaf, c.config.ServerName, c.config.TrustedCAs, c.config.TimeNow())
}

func (c *Conn) transcriptHash() []byte {
	h := sha256.Sum256(c.transcript)
	return h[:]
}

func (c *Conn) deriveHandshakeKeys(sh tlswire.ServerHello) error {
	var serverPub []byte
	for _, ext := range sh.Extensions {
		if ext.Type == tlswire.ExtensionKeyShare {
			entry, err := tlswire.ParseKeyShareExtensionServer(ext.Data)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrHandshake, err)
			}
			serverPub = entry.PublicKey
		}
	}
	if serverPub == nil {
		return fmt.Errorf("%w: server key_share missing", ErrHandshake)
	}

	peerKey, err := ecdh.X25519().NewPublicKey(serverPub)
	if err != nil {
		return fmt.Errorf("%w: bad server public key: %v", ErrHandshake, err)
	}
	shared, err := c.privKey.ECDH(peerKey)
	if err != nil {
		return fmt.Errorf("%w: ecdh: %v", ErrHandshake, err)
	}

	hsHash := c.transcriptHash()
	sched := keyschedule.DeriveSchedule13(shared, hsHash, hsHash)

	clientKeys, err := newTrafficKeys(sched.ClientHandshakeTrafficSecret, c.suite)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	serverKeys, err := newTrafficKeys(sched.ServerHandshakeTrafficSecret, c.suite)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	c.clientKeys = clientKeys
	c.serverKeys = serverKeys
	return nil
}

func (c *Conn) verifyServerFinished(finishedBody []byte) error {
	// the Finished message itself is excluded from the transcript hash
	// used to derive its own finished_key, per RFC 8446 §4.4.4: the
	// hash covers everything up to but not including Finished.
	finishedKey := keyschedule.ExpandLabel(c.serverKeys.secret, "finished", nil, keyschedule.HashLen)
	expected := hmacSHA256(finishedKey, c.transcriptHash())
	if !hmacEqual(expected, finishedBody) {
		return fmt.Errorf("%w: server Finished verify_data mismatch", ErrHandshake)
	}
	c.transcript = append(c.transcript, tlswire.FrameMessage(tlswire.MessageTypeFinished, finishedBody)...)
	return nil
}

func (c *Conn) sendClientFinished() error {
	finishedKey := keyschedule.ExpandLabel(c.clientKeys.secret, "finished", nil, keyschedule.HashLen)
	verifyData := hmacSHA256(finishedKey, c.transcriptHash())

	msg := tlswire.FrameMessage(tlswire.MessageTypeFinished, verifyData)
	c.transcript = append(c.transcript, msg...)
	return c.writeEncryptedRecord(recordTypeHandshake, msg)
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// readHandshakeMessage reads one framed handshake message, decrypting
// the containing record with the server handshake keys once they are
// established.
func (c *Conn) readHandshakeMessage() (tlswire.Message, error) {
	plaintext, recordType, err := c.readRecordPlaintext()
	if err != nil {
		return tlswire.Message{}, err
	}
	if recordType != recordTypeHandshake {
		return tlswire.Message{}, fmt.Errorf("%w: Unexpected record type", ErrRecord)
	}
	msg, _, err := tlswire.ParseMessage(plaintext, 0)
	if err != nil {
		return tlswire.Message{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	// Finished is appended to the transcript only after its own
	// verification (see verifyServerFinished): the hash that verifies
	// it must not include it.
	if msg.Type != tlswire.MessageTypeFinished {
		c.transcript = append(c.transcript, plaintext...)
	}
	return msg, nil
}

// readRecordPlaintext reads one TLS record and, if server traffic
// keys are established, decrypts it; otherwise it returns the record
// body directly (the ServerHello arrives unencrypted).
func (c *Conn) readRecordPlaintext() ([]byte, uint8, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(c.underlying, header); err != nil {
		return nil, 0, fmt.Errorf("%w: record header: %v", ErrRecord, err)
	}
	recordType := header[0]
	length := int(binary.BigEndian.Uint16(header[3:5]))
	body := make([]byte, length)
	if _, err := io.ReadFull(c.underlying, body); err != nil {
		return nil, 0, fmt.Errorf("%w: record body: %v", ErrRecord, err)
	}

	if c.serverKeys == nil {
		return body, recordType, nil
	}
	plaintext, innerType, err := c.decrypt(c.serverKeys, body)
	if err != nil {
		return nil, 0, err
	}
	return plaintext, innerType, nil
}

func (c *Conn) decrypt(keys *trafficKeys, ciphertext []byte) ([]byte, uint8, error) {
	nonce := keys.nonce()
	plaintext, err := keys.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad_record_mac", ErrRecord)
	}
	if len(plaintext) == 0 {
		return nil, 0, fmt.Errorf("%w: empty plaintext", ErrRecord)
	}
	innerType := plaintext[len(plaintext)-1]
	return plaintext[:len(plaintext)-1], innerType, nil
}

// writeRecord writes a plaintext TLS record (used only before
// handshake keys are established, i.e. for ClientHello).
func (c *Conn) writeRecord(recordType uint8, body []byte) error {
	header := make([]byte, 5)
	header[0] = recordType
	binary.BigEndian.PutUint16(header[1:3], legacyRecordVersion)
	binary.BigEndian.PutUint16(header[3:5], uint16(len(body)))
	if _, err := c.underlying.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrRecord, err)
	}
	if _, err := c.underlying.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrRecord, err)
	}
	return nil
}

// writeEncryptedRecord encrypts innerType||body with the client
// traffic keys and wraps it as an APPLICATION_DATA record, per §4.8.
func (c *Conn) writeEncryptedRecord(innerType uint8, body []byte) error {
	nonce := c.clientKeys.nonce()
	plaintext := append(append([]byte{}, body...), innerType)
	ciphertext := c.clientKeys.aead.Seal(nil, nonce, plaintext, nil)
	return c.writeRecord(recordTypeApplicationData, ciphertext)
}

// Write requires [StateEstablished]. It encrypts data as
// APPLICATION_DATA using the client write keys and the next sequence
// number, and returns the count of plaintext bytes accepted.
func (c *Conn) Write(data []byte) (int, error) {
	if c.state != StateEstablished {
		return 0, fmt.Errorf("%w: write requires ESTABLISHED, have %s", ErrInvalidState, c.state)
	}

	t0 := c.config.TimeNow()
	c.logStart("tlsWriteStart", t0, len(data))
	err := c.writeEncryptedRecord(recordTypeApplicationData, data)
	n := len(data)
	if err != nil {
		n = 0
	}
	c.logDone("tlsWriteDone", t0, n, err)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Read requires [StateEstablished]. It fills buf with up to its
// capacity of decrypted application data, buffering any surplus
// plaintext internally for a subsequent Read.
func (c *Conn) Read(buf []byte) (int, error) {
	if c.state != StateEstablished {
		return 0, fmt.Errorf("%w: read requires ESTABLISHED, have %s", ErrInvalidState, c.state)
	}

	t0 := c.config.TimeNow()
	c.logStart("tlsReadStart", t0, len(buf))
	n, err := c.read(buf)
	c.logDone("tlsReadDone", t0, n, err)
	return n, err
}

func (c *Conn) read(buf []byte) (int, error) {
	for len(c.readBuf) == 0 {
		plaintext, recordType, err := c.readRecordPlaintext()
		if err != nil {
			return 0, err
		}
		switch recordType {
		case recordTypeApplicationData:
			c.readBuf = plaintext
		case recordTypeAlert:
			if len(plaintext) >= 2 && AlertDescription(plaintext[1]) == AlertCloseNotify {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("%w: peer alert %d", ErrRecord, plaintext[1])
		default:
			return 0, fmt.Errorf("%w: Unexpected record type", ErrRecord)
		}
	}
	n := copy(buf, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Close sends a close_notify alert, then closes the underlying
// connection and transitions ESTABLISHED -> NONE.
func (c *Conn) Close() error {
	t0 := c.config.TimeNow()
	c.config.Logger.Info(
		"tlsCloseStart",
		slog.String("localAddr", safeconn.LocalAddr(c.underlying)),
		slog.String("protocol", safeconn.Network(c.underlying)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.underlying)),
		slog.String("spanID", c.SpanID),
		slog.Time("t", t0),
	)

	if c.state == StateEstablished {
		alertBody := []byte{1, byte(AlertCloseNotify)} // level=warning
		_ = c.writeEncryptedRecord(recordTypeAlert, alertBody)
		c.state = StateNone
	}
	err := c.underlying.Close()

	c.config.Logger.Info(
		"tlsCloseDone",
		slog.Any("err", err),
		slog.String("errClass", c.config.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(c.underlying)),
		slog.String("protocol", safeconn.Network(c.underlying)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.underlying)),
		slog.String("spanID", c.SpanID),
		slog.Time("t0", t0),
		slog.Time("t", c.config.TimeNow()),
	)
	return err
}

// logStart emits the Debug-level *Start event for a record-layer read or
// write, with the field set the rest of the module uses (ioBufferSize,
// spanID, t).
func (c *Conn) logStart(event string, t0 time.Time, bufSize int) {
	c.config.Logger.Debug(
		event,
		slog.Int("ioBufferSize", bufSize),
		slog.String("localAddr", safeconn.LocalAddr(c.underlying)),
		slog.String("protocol", safeconn.Network(c.underlying)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.underlying)),
		slog.String("spanID", c.SpanID),
		slog.Time("t", t0),
	)
}

// logDone emits the Debug-level *Done event matching logStart.
func (c *Conn) logDone(event string, t0 time.Time, n int, err error) {
	c.config.Logger.Debug(
		event,
		slog.Int("ioBytesCount", n),
		slog.Any("err", err),
		slog.String("errClass", c.config.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(c.underlying)),
		slog.String("protocol", safeconn.Network(c.underlying)),
		slog.String("remoteAddr", safeconn.RemoteAddr(c.underlying)),
		slog.String("spanID", c.SpanID),
		slog.Time("t0", t0),
		slog.Time("t", c.config.TimeNow()),
	)
}
