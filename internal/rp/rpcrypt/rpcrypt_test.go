package rpcrypt

import (
	"bytes"
	"testing"

	"github.com/alxayo/rp-session/internal/rp/target"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	nonce := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	morning := [16]byte{0xAA, 0xBB}

	rc, err := New(target.PS5_1, nonce, morning)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plain := []byte("login pin request frame payload")
	cipherText, err := rc.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(cipherText, plain) {
		t.Fatalf("ciphertext equals plaintext")
	}

	recovered, err := rc.Decrypt(cipherText)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(recovered, plain) {
		t.Fatalf("Decrypt(Encrypt(x)) = %q, want %q", recovered, plain)
	}
}

func TestDerivationIsBoundToTarget(t *testing.T) {
	nonce := [16]byte{1, 2, 3}
	morning := [16]byte{9, 9, 9}

	a, err := New(target.PS4_9, nonce, morning)
	if err != nil {
		t.Fatalf("New PS4_9: %v", err)
	}
	b, err := New(target.PS4_10, nonce, morning)
	if err != nil {
		t.Fatalf("New PS4_10: %v", err)
	}
	if a.key == b.key && a.iv == b.iv {
		t.Fatalf("expected different key material for different targets")
	}
}

func TestDerivationIsDeterministic(t *testing.T) {
	nonce := [16]byte{5, 5, 5}
	morning := [16]byte{7, 7, 7}

	a, err := New(target.PS5_1, nonce, morning)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(target.PS5_1, nonce, morning)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.key != b.key || a.iv != b.iv {
		t.Fatalf("expected identical derivation for identical inputs")
	}
}

func TestNewRejectsUnknownTarget(t *testing.T) {
	if _, err := New(target.Unknown, [16]byte{}, [16]byte{}); err == nil {
		t.Fatalf("expected an error for a target with no version string")
	}
}

func TestDeriveStreamCryptLeavesControlCryptUntouched(t *testing.T) {
	rc, err := New(target.PS5_1, [16]byte{1, 2, 3}, [16]byte{4, 5, 6})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := rc.key

	sc, err := rc.DeriveStreamCrypt([32]byte{0x11}, [32]byte{0xAA, 0xBB, 0xCC})
	if err != nil {
		t.Fatalf("DeriveStreamCrypt: %v", err)
	}
	if rc.key != before {
		t.Fatalf("expected the control crypt's key material to be unchanged")
	}
	if sc.key == rc.key {
		t.Fatalf("expected the stream crypt to use different key material")
	}
}

func TestDeriveStreamCryptIsDeterministicAndKeepsRoundTripWorking(t *testing.T) {
	a, err := New(target.PS5_1, [16]byte{9, 9}, [16]byte{1, 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(target.PS5_1, [16]byte{9, 9}, [16]byte{1, 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	handshakeKey := [32]byte{0x01, 0x02}
	secret := [32]byte{0x01, 0x02, 0x03, 0x04}
	sa, err := a.DeriveStreamCrypt(handshakeKey, secret)
	if err != nil {
		t.Fatalf("DeriveStreamCrypt a: %v", err)
	}
	sb, err := b.DeriveStreamCrypt(handshakeKey, secret)
	if err != nil {
		t.Fatalf("DeriveStreamCrypt b: %v", err)
	}
	if sa.key != sb.key || sa.iv != sb.iv {
		t.Fatalf("expected identical derivation for identical inputs")
	}

	plain := []byte("post-handshake stream payload")
	cipherText, err := sa.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	recovered, err := sa.Decrypt(cipherText)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(recovered) != string(plain) {
		t.Fatalf("Decrypt(Encrypt(x)) = %q, want %q", recovered, plain)
	}
}
