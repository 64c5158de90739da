// Package signing implements the Agent Transaction Verifier (ATV):
// RSA-PSS/SHA-256 signatures over the canonicalized, sanitized message a
// request actually carried through the pipeline.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Signer signs and verifies pipeline messages.
type Signer interface {
	// Sign produces an RSA-PSS signature over the UTF-8 bytes of message.
	// Signatures are salted and therefore non-deterministic.
	Sign(message string) ([]byte, error)

	// Verify reports whether signature is valid for message. It returns
	// false on any verification error and never panics.
	Verify(message string, signature []byte) bool
}

// RSASigner signs with RSA-PSS, MGF1-SHA-256, maximum salt length.
type RSASigner struct {
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
}

// NewRSASigner builds a signer from an already-loaded key pair. The
// public key may come from a separate PEM file; it is checked against
// the private key so a mismatched deployment fails at startup instead
// of at the first self-verification.
func NewRSASigner(priv *rsa.PrivateKey, pub *rsa.PublicKey) (*RSASigner, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("signing: both private and public keys are required")
	}
	if priv.PublicKey.N.Cmp(pub.N) != 0 || priv.PublicKey.E != pub.E {
		return nil, fmt.Errorf("signing: public key does not match private key")
	}
	return &RSASigner{priv: priv, pub: pub}, nil
}

var pssOpts = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto, // max permitted for the key size
	Hash:       crypto.SHA256,
}

func (s *RSASigner) Sign(message string) ([]byte, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, s.priv, crypto.SHA256, digest[:], pssOpts)
	if err != nil {
		return nil, fmt.Errorf("signing: pss sign failed: %w", err)
	}
	return sig, nil
}

func (s *RSASigner) Verify(message string, signature []byte) bool {
	digest := sha256.Sum256([]byte(message))
	return rsa.VerifyPSS(s.pub, crypto.SHA256, digest[:], signature, pssOpts) == nil
}

// PublicKey exposes the verification key (read-only use).
func (s *RSASigner) PublicKey() *rsa.PublicKey {
	return s.pub
}
