// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: the der package (this repo) for TLV walking, following
// RFC 5280 §4 structure; OID tables per the spec's own enumeration.

// Package x509lite parses an X.509 v3 certificate's DER encoding into
// the fields §4.5/§4.6 need, without delegating to crypto/x509.
package x509lite

import (
	"errors"
	"fmt"
	"time"

	"github.com/webengine-project/netcore/der"
)

// ErrMalformed wraps every malformed-certificate condition this
// package detects.
var ErrMalformed = errors.New("x509lite: malformed certificate")

// sigAlgOIDs maps a signature-algorithm OID to its {keyAlg, hashAlg}
// pair, per §4.5.
var sigAlgOIDs = map[string][2]string{
	"1.2.840.113549.1.1.1":  {"RSA", ""},
	"1.2.840.113549.1.1.5":  {"RSA", "SHA1"},
	"1.2.840.113549.1.1.11": {"RSA", "SHA256"},
	"1.2.840.113549.1.1.12": {"RSA", "SHA384"},
	"1.2.840.113549.1.1.13": {"RSA", "SHA512"},
	"1.3.101.112":           {"Ed25519", ""},
}

// ecdsaSigAlgOIDs maps the ECDSA-with-SHA family (1.2.840.10045.4.*)
// to {keyAlg, hashAlg}; lookup is by exact OID.
var ecdsaSigAlgOIDs = map[string][2]string{
	"1.2.840.10045.4.1": {"ECDSA", "SHA1"},
	"1.2.840.10045.4.3.1": {"ECDSA", "SHA224"},
	"1.2.840.10045.4.3.2": {"ECDSA", "SHA256"},
	"1.2.840.10045.4.3.3": {"ECDSA", "SHA384"},
	"1.2.840.10045.4.3.4": {"ECDSA", "SHA512"},
}

// dnAttributeOIDs maps a DN attribute-type OID to its short name,
// per §4.5.
var dnAttributeOIDs = map[string]string{
	"2.5.4.3":               "CN",
	"2.5.4.6":               "C",
	"2.5.4.7":                "L",
	"2.5.4.8":                "ST",
	"2.5.4.10":               "O",
	"2.5.4.11":               "OU",
	"2.5.4.12":               "T",
	"2.5.4.42":               "GN",
	"2.5.4.4":                "SN",
	"1.2.840.113549.1.9.1":   "E",
}

const oidSubjectAltName = "2.5.29.17"

// SignatureAlgorithm is a resolved {keyAlg, hashAlg} pair.
type SignatureAlgorithm struct {
	KeyAlg  string
	HashAlg string
}

// Name is a parsed distinguished name: attribute values keyed by short
// name (attribute order is not kept, and a repeated attribute keeps its
// last value) plus a convenience CN lookup.
type Name struct {
	Attributes map[string]string
	CN         string
}

// Certificate is the parsed subset of an X.509 v3 certificate this
// package's callers need.
type Certificate struct {
	Version            int
	SerialNumber       []byte
	SignatureAlgorithm SignatureAlgorithm
	SignatureAlgOID    string
	Issuer             Name
	Subject            Name
	NotBefore          time.Time
	NotAfter           time.Time
	PublicKeyAlgorithm string
	PublicKey          []byte // raw SPKI BIT STRING payload
	DNSNames           []string
	Signature          []byte // outer certificate signature value
	Raw                []byte // the full DER encoding, for signature verification
	RawTBS             []byte // the TBSCertificate DER encoding, for signature verification
}

// Parse decodes a DER-encoded X.509 certificate.
func Parse(data []byte) (*Certificate, error) {
	outer, _, err := der.ExpectSequence(data, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", ErrMalformed, err)
	}

	tbsElem, off, err := der.ExpectSequence(outer.Content, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: tbsCertificate: %v", ErrMalformed, err)
	}
	rawTBS := outer.Content[0:off]

	sigAlgElem, off, err := der.ExpectSequence(outer.Content, off)
	if err != nil {
		return nil, fmt.Errorf("%w: signatureAlgorithm: %v", ErrMalformed, err)
	}
	sigAlgOID, err := parseAlgorithmOID(sigAlgElem)
	if err != nil {
		if !errors.Is(err, ErrMalformed) {
			err = fmt.Errorf("%w: signatureAlgorithm: %v", ErrMalformed, err)
		}
		return nil, err
	}

	sigElem, _, err := der.ParseElement(outer.Content, off)
	if err != nil {
		return nil, fmt.Errorf("%w: signatureValue: %v", ErrMalformed, err)
	}
	_, sigBytes, err := der.ParseBitString(sigElem)
	if err != nil {
		return nil, fmt.Errorf("%w: signatureValue: %v", ErrMalformed, err)
	}

	cert, err := parseTBSCertificate(tbsElem.Content)
	if err != nil {
		if !errors.Is(err, ErrMalformed) {
			err = fmt.Errorf("%w: tbsCertificate: %v", ErrMalformed, err)
		}
		return nil, err
	}
	cert.SignatureAlgOID = sigAlgOID
	cert.SignatureAlgorithm = resolveSigAlg(sigAlgOID)
	cert.Signature = sigBytes
	cert.Raw = data
	cert.RawTBS = rawTBS
	return cert, nil
}

func parseTBSCertificate(buf []byte) (*Certificate, error) {
	cert := &Certificate{Version: 1}
	off := 0

	e, next, err := der.ParseElement(buf, off)
	if err != nil {
		return nil, fmt.Errorf("%w: tbsCertificate empty", ErrMalformed)
	}
	if e.IsContextTag(0) {
		// version [0] EXPLICIT Version DEFAULT v1
		verElem, _, err := der.ParseElement(e.Content, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: version: %v", ErrMalformed, err)
		}
		raw, err := der.ParseInteger(verElem)
		if err != nil {
			return nil, err
		}
		cert.Version = int(bytesToUint(raw)) + 1
		off = next
		e, next, err = der.ParseElement(buf, off)
		if err != nil {
			return nil, fmt.Errorf("%w: serialNumber missing: %v", ErrMalformed, err)
		}
	}

	serial, err := der.ParseInteger(e)
	if err != nil {
		return nil, fmt.Errorf("%w: serialNumber: %v", ErrMalformed, err)
	}
	cert.SerialNumber = serial
	off = next

	sigAlgElem, next, err := der.ExpectSequence(buf, off)
	if err != nil {
		return nil, fmt.Errorf("%w: tbs signature: %v", ErrMalformed, err)
	}
	_ = sigAlgElem
	off = next

	issuer, next, err := parseName(buf, off)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer: %v", ErrMalformed, err)
	}
	cert.Issuer = issuer
	off = next

	notBefore, notAfter, next, err := parseValidity(buf, off)
	if err != nil {
		return nil, fmt.Errorf("%w: validity: %v", ErrMalformed, err)
	}
	cert.NotBefore, cert.NotAfter = notBefore, notAfter
	off = next

	subject, next, err := parseName(buf, off)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", ErrMalformed, err)
	}
	cert.Subject = subject
	off = next

	spkiElem, next, err := der.ExpectSequence(buf, off)
	if err != nil {
		return nil, fmt.Errorf("%w: subjectPublicKeyInfo: %v", ErrMalformed, err)
	}
	pubKeyAlgOID, pubKey, err := parseSPKI(spkiElem.Content)
	if err != nil {
		return nil, err
	}
	cert.PublicKeyAlgorithm = pubKeyAlgOID
	cert.PublicKey = pubKey
	off = next

	// Optional issuerUniqueID [1], subjectUniqueID [2], extensions [3];
	// skip the unique IDs and look only for extensions.
	for off < len(buf) {
		e, next, err := der.ParseElement(buf, off)
		if err != nil {
			break
		}
		if e.IsContextTag(3) {
			names, err := parseExtensions(e.Content)
			if err != nil {
				return nil, err
			}
			cert.DNSNames = names
		}
		off = next
	}

	return cert, nil
}

func parseAlgorithmOID(seq der.Element) (string, error) {
	oidElem, _, err := der.ParseElement(seq.Content, 0)
	if err != nil {
		return "", fmt.Errorf("%w: algorithm OID: %v", ErrMalformed, err)
	}
	return der.ParseOID(oidElem)
}

func parseName(buf []byte, off int) (Name, int, error) {
	seq, next, err := der.ExpectSequence(buf, off)
	if err != nil {
		return Name{}, 0, err
	}
	name := Name{Attributes: map[string]string{}}

	content := seq.Content
	i := 0
	for i < len(content) {
		rdnSet, rdnNext, err := der.ParseElement(content, i)
		if err != nil {
			return Name{}, 0, err
		}
		if rdnSet.Raw != (der.TagSet | 0x20) {
			return Name{}, 0, fmt.Errorf("%w: expected SET OF in RDN", ErrMalformed)
		}
		j := 0
		for j < len(rdnSet.Content) {
			avaSeq, avaNext, err := der.ExpectSequence(rdnSet.Content, j)
			if err != nil {
				return Name{}, 0, err
			}
			oidElem, k, err := der.ParseElement(avaSeq.Content, 0)
			if err != nil {
				return Name{}, 0, err
			}
			oid, err := der.ParseOID(oidElem)
			if err != nil {
				return Name{}, 0, err
			}
			valElem, _, err := der.ParseElement(avaSeq.Content, k)
			if err != nil {
				return Name{}, 0, err
			}
			value, err := der.ParseString(valElem)
			if err != nil {
				return Name{}, 0, err
			}
			short, ok := dnAttributeOIDs[oid]
			if !ok {
				short = oid
			}
			name.Attributes[short] = value
			if short == "CN" {
				name.CN = value
			}
			j = avaNext
		}
		i = rdnNext
	}
	return name, next, nil
}

func parseValidity(buf []byte, off int) (notBefore, notAfter time.Time, next int, err error) {
	seq, next, err := der.ExpectSequence(buf, off)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	nbElem, i, err := der.ParseElement(seq.Content, 0)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	nb, err := der.ParseTime(nbElem)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	naElem, _, err := der.ParseElement(seq.Content, i)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	na, err := der.ParseTime(naElem)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	return nb, na, next, nil
}

func parseSPKI(buf []byte) (algOID string, key []byte, err error) {
	algSeq, i, err := der.ExpectSequence(buf, 0)
	if err != nil {
		return "", nil, err
	}
	oidElem, _, err := der.ParseElement(algSeq.Content, 0)
	if err != nil {
		return "", nil, err
	}
	oid, err := der.ParseOID(oidElem)
	if err != nil {
		return "", nil, err
	}
	keyElem, _, err := der.ParseElement(buf, i)
	if err != nil {
		return "", nil, err
	}
	_, keyBytes, err := der.ParseBitString(keyElem)
	if err != nil {
		return "", nil, err
	}
	return oid, keyBytes, nil
}

// parseExtensions walks the extensions SEQUENCE and extracts dNSName
// entries from the subjectAltName extension (OID 2.5.29.17).
func parseExtensions(buf []byte) ([]string, error) {
	seq, _, err := der.ExpectSequence(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: extensions: %v", ErrMalformed, err)
	}
	var names []string
	i := 0
	for i < len(seq.Content) {
		extSeq, next, err := der.ExpectSequence(seq.Content, i)
		if err != nil {
			return nil, fmt.Errorf("%w: extension: %v", ErrMalformed, err)
		}
		oidElem, j, err := der.ParseElement(extSeq.Content, 0)
		if err != nil {
			return nil, err
		}
		oid, err := der.ParseOID(oidElem)
		if err != nil {
			return nil, err
		}
		// optional critical BOOLEAN
		nextElem, k, err := der.ParseElement(extSeq.Content, j)
		if err != nil {
			return nil, err
		}
		if nextElem.Tag == der.TagBoolean {
			nextElem, k, err = der.ParseElement(extSeq.Content, k)
			if err != nil {
				return nil, err
			}
		}
		octetElem := nextElem
		octets, err := der.ParseOctetString(octetElem)
		if err != nil {
			return nil, fmt.Errorf("%w: extension value: %v", ErrMalformed, err)
		}
		_ = k

		if oid == oidSubjectAltName {
			sanNames, err := parseSAN(octets)
			if err != nil {
				return nil, err
			}
			names = append(names, sanNames...)
		}
		i = next
	}
	return names, nil
}

func parseSAN(buf []byte) ([]string, error) {
	seq, _, err := der.ExpectSequence(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: subjectAltName: %v", ErrMalformed, err)
	}
	var names []string
	i := 0
	for i < len(seq.Content) {
		e, next, err := der.ParseElement(seq.Content, i)
		if err != nil {
			return nil, err
		}
		if e.IsContextTag(2) { // dNSName [2] IA5String
			names = append(names, string(e.Content))
		}
		i = next
	}
	return names, nil
}

func resolveSigAlg(oid string) SignatureAlgorithm {
	if v, ok := sigAlgOIDs[oid]; ok {
		return SignatureAlgorithm{KeyAlg: v[0], HashAlg: v[1]}
	}
	if v, ok := ecdsaSigAlgOIDs[oid]; ok {
		return SignatureAlgorithm{KeyAlg: v[0], HashAlg: v[1]}
	}
	return SignatureAlgorithm{KeyAlg: "RSA", HashAlg: "SHA256"}
}

func bytesToUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = (v << 8) | uint64(c)
	}
	return v
}
