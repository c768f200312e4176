// Package ecdhx wraps Curve25519 key agreement for the pre-streaming key
// exchange performed against the stream connection (spec.md §4.4 step 7:
// "Generate handshake_key via secure random; init ECDH").
package ecdhx

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is an ephemeral Curve25519 key pair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// Generate creates a fresh ephemeral key pair using crypto/rand.
func Generate() (*KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, fmt.Errorf("ecdhx: generate private scalar: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("ecdhx: derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedSecret computes the Curve25519 shared secret between our private
// key and the peer's public key.
func (kp *KeyPair) SharedSecret(peerPublic [32]byte) ([32]byte, error) {
	var secret [32]byte
	shared, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return secret, fmt.Errorf("ecdhx: compute shared secret: %w", err)
	}
	copy(secret[:], shared)
	return secret, nil
}
