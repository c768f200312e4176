// Package rpcrypt derives the session symmetric key/IV pair from the
// negotiated nonce, the pre-shared "morning" secret, and the console target,
// then exposes AES-CFB encrypt/decrypt helpers for control-channel framing
// (spec.md §4.4 "RPCrypt").
package rpcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	rerrors "github.com/alxayo/rp-session/internal/errors"
	"github.com/alxayo/rp-session/internal/rp/target"
)

const (
	keySize = 16
	ivSize  = 16
)

// RPCrypt holds the derived key/IV pair for one session and encrypts or
// decrypts control-channel frames with it.
type RPCrypt struct {
	key [keySize]byte
	iv  [ivSize]byte
}

// New derives an RPCrypt from the target, the 16-byte nonce returned by the
// session-request exchange, and the 16-byte pre-shared "morning" secret.
// The derivation runs the target's version string, the nonce, and the
// morning secret through HKDF-SHA3-256 (spec.md §4.4: "key material is bound
// to the negotiated target so a PS4/PS5 downgrade cannot silently reuse a
// key derived for the other family").
func New(tgt target.Target, nonce, morning [16]byte) (*RPCrypt, error) {
	version, ok := target.VersionString(tgt)
	if !ok {
		return nil, rerrors.NewSessionRequestError("derive rpcrypt", fmt.Errorf("target %s has no version string", tgt))
	}

	salt := append([]byte(version), nonce[:]...)
	r := hkdf.New(sha3.New256, morning[:], salt, []byte("rpcrypt"))

	var out [keySize + ivSize]byte
	if _, err := readFull(r, out[:]); err != nil {
		return nil, rerrors.NewSessionRequestError("derive rpcrypt", err)
	}

	rc := &RPCrypt{}
	copy(rc.key[:], out[:keySize])
	copy(rc.iv[:], out[keySize:])
	return rc, nil
}

// DeriveStreamCrypt folds handshake_key and the step-7 ECDH shared secret
// into this RPCrypt's key material and returns a new, independent RPCrypt
// for the stream connection (spec.md §4.4 step 7: "Generate handshake_key
// via secure random; init ECDH"). c itself is left untouched — the control
// channel keeps using its own key/IV for as long as Ctrl stays open
// alongside the stream connection.
func (c *RPCrypt) DeriveStreamCrypt(handshakeKey [32]byte, sharedSecret [32]byte) (*RPCrypt, error) {
	ikm := append(append([]byte{}, handshakeKey[:]...), sharedSecret[:]...)
	r := hkdf.New(sha3.New256, ikm, c.key[:], []byte("rpcrypt-stream"))

	var out [keySize + ivSize]byte
	if _, err := readFull(r, out[:]); err != nil {
		return nil, fmt.Errorf("rpcrypt: derive stream crypt: %w", err)
	}
	rc := &RPCrypt{}
	copy(rc.key[:], out[:keySize])
	copy(rc.iv[:], out[keySize:])
	return rc, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("rpcrypt: short read from kdf")
		}
	}
	return total, nil
}

// stream builds a fresh AES-CFB stream cipher seeded with this RPCrypt's key
// and IV. CFB is a stream mode so the same cipher.Stream cannot be reused
// across independent frames with a fixed IV; callers get a new one per call.
func (c *RPCrypt) stream() (cipher.Stream, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("rpcrypt: new cipher: %w", err)
	}
	return cipher.NewCFBEncrypter(block, c.iv[:]), nil
}

// Encrypt XORs src against the keystream, returning a newly allocated
// ciphertext the same length as src.
func (c *RPCrypt) Encrypt(src []byte) ([]byte, error) {
	s, err := c.stream()
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	s.XORKeyStream(dst, src)
	return dst, nil
}

// Decrypt reverses Encrypt with an AES-CFB decrypter built from the same
// key/IV, returning a newly allocated plaintext the same length as src.
func (c *RPCrypt) Decrypt(src []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("rpcrypt: new cipher: %w", err)
	}
	s := cipher.NewCFBDecrypter(block, c.iv[:])
	dst := make([]byte, len(src))
	s.XORKeyStream(dst, src)
	return dst, nil
}
