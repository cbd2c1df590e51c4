// SPDX-License-Identifier: GPL-3.0-or-later
//
// Grounded on: the spec's own §4.6 ordered-validation prose; error
// values follow HydraDNS's sentinel-wrapped-error idiom used throughout
// this repo's wire-parsing packages.

// Package certvalidate implements certificate chain and hostname
// validation over x509lite certificates, per §4.6.
package certvalidate

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/webengine-project/netcore/x509lite"
)

// ErrValidation is wrapped by every error Validate returns; the wrapping
// error's message ends with the reason string named in §4.6.
var ErrValidation = errors.New("certvalidate: validation failed")

// maxChainDepth bounds chain-building recursion per §4.6.
const maxChainDepth = 10

// Validate runs the ordered checks of §4.6 against leaf, short-circuiting
// on the first failure with a wrapped ErrValidation carrying the exact
// reason string named by the spec.
func Validate(leaf *x509lite.Certificate, hostname string, trustedCAs []*x509lite.Certificate, now time.Time) error {
	if err := checkExpiration(leaf, now); err != nil {
		return err
	}
	if err := checkHostname(leaf, hostname); err != nil {
		return err
	}
	chain, err := buildChain(leaf, trustedCAs)
	if err != nil {
		return err
	}
	if err := verifyChainSignatures(chain); err != nil {
		return err
	}
	if err := checkRootTrust(chain, trustedCAs); err != nil {
		return err
	}
	return nil
}

func checkExpiration(cert *x509lite.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("%w: Certificate not yet valid", ErrValidation)
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("%w: Certificate expired", ErrValidation)
	}
	return nil
}

func checkHostname(cert *x509lite.Certificate, hostname string) error {
	candidates := append([]string{cert.Subject.CN}, cert.DNSNames...)
	for _, name := range candidates {
		if matchesHostname(name, hostname) {
			return nil
		}
	}
	return fmt.Errorf("%w: Hostname mismatch", ErrValidation)
}

// matchesHostname implements exact match or single-label wildcard
// (a name beginning "*." matches any hostname whose portion after its
// first label equals the name's suffix after "*.").
func matchesHostname(certName, hostname string) bool {
	if certName == "" {
		return false
	}
	if certName == hostname {
		return true
	}
	if !strings.HasPrefix(certName, "*.") {
		return false
	}
	suffix := certName[2:]
	idx := strings.IndexByte(hostname, '.')
	if idx < 0 {
		return false
	}
	return hostname[idx+1:] == suffix
}

// buildChain resolves, from leaf, repeatedly finding the issuer in
// trustedCAs (current.issuer == candidate.subject) up to maxChainDepth.
// A self-signed certificate (subject == issuer) terminates the chain
// as its root.
func buildChain(leaf *x509lite.Certificate, trustedCAs []*x509lite.Certificate) ([]*x509lite.Certificate, error) {
	chain := []*x509lite.Certificate{leaf}
	current := leaf
	for depth := 0; depth < maxChainDepth; depth++ {
		if sameName(current.Subject, current.Issuer) {
			return chain, nil
		}
		parent := findIssuer(current, trustedCAs)
		if parent == nil {
			return nil, fmt.Errorf("%w: Unable to build certificate chain", ErrValidation)
		}
		chain = append(chain, parent)
		current = parent
	}
	return nil, fmt.Errorf("%w: Unable to build certificate chain", ErrValidation)
}

func findIssuer(cert *x509lite.Certificate, trustedCAs []*x509lite.Certificate) *x509lite.Certificate {
	for _, candidate := range trustedCAs {
		if sameName(cert.Issuer, candidate.Subject) {
			return candidate
		}
	}
	return nil
}

func sameName(a, b x509lite.Name) bool {
	if len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for k, v := range a.Attributes {
		if b.Attributes[k] != v {
			return false
		}
	}
	return true
}

// verifyChainSignatures verifies each non-root link's signature with
// its parent's public key, per §4.6 step 4.
func verifyChainSignatures(chain []*x509lite.Certificate) error {
	for i := 0; i < len(chain)-1; i++ {
		child, parent := chain[i], chain[i+1]
		if err := verifySignature(child, parent); err != nil {
			return fmt.Errorf("%w: Invalid signature for %s", ErrValidation, child.Subject.CN)
		}
	}
	return nil
}

func verifySignature(child, parent *x509lite.Certificate) error {
	pub, err := parsePublicKey(parent)
	if err != nil {
		return err
	}
	hashFunc, hashNew := resolveHash(child.SignatureAlgorithm.HashAlg)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		h := hashNew()
		h.Write(child.RawTBS)
		return rsa.VerifyPKCS1v15(key, hashFunc, h.Sum(nil), child.Signature)
	case *ecdsa.PublicKey:
		h := hashNew()
		h.Write(child.RawTBS)
		if !ecdsa.VerifyASN1(key, h.Sum(nil), child.Signature) {
			return errors.New("ecdsa signature mismatch")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(key, child.RawTBS, child.Signature) {
			return errors.New("ed25519 signature mismatch")
		}
		return nil
	default:
		return errors.New("unsupported public key type")
	}
}

// resolveHash maps a §4.5 hash-algorithm name to its crypto.Hash and
// constructor, defaulting to SHA-256 per §4.6 step 4's unknown-algorithm
// fallback.
func resolveHash(name string) (crypto.Hash, func() hash.Hash) {
	switch name {
	case "SHA1":
		return crypto.SHA1, sha1.New
	case "SHA384":
		return crypto.SHA384, sha512.New384
	case "SHA512":
		return crypto.SHA512, sha512.New
	default:
		return crypto.SHA256, sha256.New
	}
}

// parsePublicKey decodes cert's SPKI payload into a crypto.PublicKey,
// dispatching on the resolved signature key algorithm family recorded
// against this certificate (used here as a stand-in for its own SPKI
// algorithm, since x509lite does not separately classify SPKI OIDs
// beyond recording the raw bytes).
func parsePublicKey(cert *x509lite.Certificate) (interface{}, error) {
	switch cert.SignatureAlgorithm.KeyAlg {
	case "RSA":
		pub, err := x509.ParsePKCS1PublicKey(cert.PublicKey)
		if err != nil {
			// fall back to a full SubjectPublicKeyInfo parse.
			generic, err2 := x509.ParsePKIXPublicKey(cert.PublicKey)
			if err2 != nil {
				return nil, fmt.Errorf("parsePublicKey: %w", err)
			}
			return generic, nil
		}
		return pub, nil
	case "Ed25519":
		if len(cert.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("parsePublicKey: bad ed25519 key size")
		}
		return ed25519.PublicKey(cert.PublicKey), nil
	case "ECDSA":
		generic, err := x509.ParsePKIXPublicKey(cert.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("parsePublicKey: %w", err)
		}
		return generic, nil
	default:
		return nil, errors.New("parsePublicKey: unsupported key algorithm")
	}
}

// CheckRevocation is a stub per §4.6: this core never contacts an OCSP
// responder or CRL distribution point.
func CheckRevocation(*x509lite.Certificate) string {
	return "not revoked"
}

func checkRootTrust(chain []*x509lite.Certificate, trustedCAs []*x509lite.Certificate) error {
	root := chain[len(chain)-1]
	for _, ca := range trustedCAs {
		if sameName(root.Subject, ca.Subject) {
			return nil
		}
	}
	return fmt.Errorf("%w: Untrusted root CA", ErrValidation)
}
