package connectinfo

import (
	"context"
	"testing"

	"github.com/alxayo/rp-session/internal/rp/videoprofile"
)

func TestNewResolvesHostAndSynthesizesDeviceID(t *testing.T) {
	ci, err := New(context.Background(), Params{
		PS5:           true,
		Host:          "localhost",
		RegistKey:     [16]byte{0x01, 0x02},
		Morning:       [16]byte{0xAA},
		VideoProfile:  videoprofile.Build(videoprofile.Res720p, videoprofile.FPS30),
		EnableKeyboard: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(ci.HostAddrs) == 0 {
		t.Fatalf("expected at least one resolved address for localhost")
	}
	if ci.DID == ([32]byte{}) {
		t.Fatalf("expected a non-zero device id")
	}
	if ci.DID[0] != 0x00 || ci.DID[5] != 0x07 {
		t.Fatalf("device id prefix not applied: %x", ci.DID[:10])
	}
}

func TestNewRejectsEmptyHost(t *testing.T) {
	if _, err := New(context.Background(), Params{Host: ""}); err == nil {
		t.Fatalf("expected an error for empty host")
	}
}

func TestRegistKeyHexTruncatesAtNUL(t *testing.T) {
	ci := &ConnectInfo{RegistKey: [16]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0xFF}}
	if got, want := ci.RegistKeyHex(), "deadbeef"; got != want {
		t.Fatalf("RegistKeyHex() = %q, want %q", got, want)
	}
}

func TestRegistKeyHexFullWhenNoNUL(t *testing.T) {
	var key [16]byte
	for i := range key {
		key[i] = byte(i + 1)
	}
	ci := &ConnectInfo{RegistKey: key}
	if got, want := ci.RegistKeyHex(), "0102030405060708090a0b0c0d0e0f10"; got != want {
		t.Fatalf("RegistKeyHex() = %q, want %q", got, want)
	}
}
