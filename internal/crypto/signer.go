// Package crypto provides the Ed25519 signer used to authorize Master
// Intent Objects (spec §4.12). It is grounded on the teacher's
// CryptoProvider abstraction (internal/federation/crypto_provider.go in the
// example pack) narrowed to the single algorithm the command plane needs —
// every MIO on this deployment is signed with one process-lifetime key,
// there is no per-tenant algorithm choice as in the teacher's federation
// layer.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
)

// Signer wraps a process-lifetime Ed25519 keypair. It is created once and
// shared across the command plane; the key never leaves the process.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

var (
	singleton *Signer
	once      sync.Once
)

// Default returns the process-wide MIO signer, generating its keypair on
// first use.
func Default() *Signer {
	once.Do(func() {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			// Key generation failure here means the machine's entropy
			// source is broken; nothing downstream can proceed safely.
			panic(fmt.Sprintf("crypto: ed25519 key generation failed: %v", err))
		}
		singleton = &Signer{privateKey: priv, publicKey: pub}
	})
	return singleton
}

// NewFromKey wraps an existing Ed25519 private key. Used by tests that need
// a deterministic keypair.
func NewFromKey(priv ed25519.PrivateKey) *Signer {
	return &Signer{privateKey: priv, publicKey: priv.Public().(ed25519.PublicKey)}
}

// Sign signs the canonical-JSON payload bytes of a MIO (see
// internal/mio.CanonicalJSON) and returns the raw 64-byte signature.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.privateKey, payload)
}

// Verify checks a signature over payload against this signer's own public
// key. MIOs in this deployment are always verified against the signer that
// produced them, not an externally supplied key.
func (s *Signer) Verify(payload, signature []byte) bool {
	return ed25519.Verify(s.publicKey, payload, signature)
}

// PublicKeyBytes returns the raw 32-byte Ed25519 public key.
func (s *Signer) PublicKeyBytes() []byte {
	return []byte(s.publicKey)
}

// EncodePublicKeyPEM returns the PEM-encoded public key, e.g. for
// publishing to a tenant verification endpoint.
func (s *Signer) EncodePublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(s.publicKey)
	if err != nil {
		return "", fmt.Errorf("marshal ed25519 public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
