// Package connectinfo assembles the immutable configuration a Session is
// built from (spec.md §3 "ConnectInfo").
package connectinfo

import (
	"context"
	"fmt"
	"net"

	"github.com/alxayo/rp-session/internal/rp/deviceid"
	"github.com/alxayo/rp-session/internal/rp/videoprofile"
)

// ConnectInfo is immutable once returned by New: name resolution has already
// happened and the device id has already been synthesized.
type ConnectInfo struct {
	PS5 bool

	// HostAddrs is the resolved address list for Host, in the order
	// returned by the resolver. The session-request exchange iterates it
	// in order (spec.md §4.3 "Address selection").
	HostAddrs []net.IPAddr
	Host      string // as given by the caller, unresolved

	RegistKey [16]byte // zero-terminated or full
	Morning   [16]byte // pre-shared secret ("morning")
	DID       [deviceid.Size]byte

	VideoProfile             videoprofile.Profile
	VideoProfileAutoDowngrade bool
	EnableKeyboard            bool
}

// Params is the caller-supplied input to New; everything else in
// ConnectInfo is derived.
type Params struct {
	PS5                       bool
	Host                      string
	RegistKey                 [16]byte
	Morning                   [16]byte
	VideoProfile              videoprofile.Profile
	VideoProfileAutoDowngrade bool
	EnableKeyboard            bool
}

// New resolves Host and synthesizes the device id, returning a fully formed,
// immutable ConnectInfo. Resolution failure aborts construction: spec.md
// §4.2 "resolve host (fails with PARSE_ADDR if resolution fails)".
func New(ctx context.Context, p Params) (*ConnectInfo, error) {
	if p.Host == "" {
		return nil, fmt.Errorf("connectinfo: empty host")
	}
	var resolver net.Resolver
	addrs, err := resolver.LookupIPAddr(ctx, p.Host)
	if err != nil {
		return nil, fmt.Errorf("connectinfo: resolve %q: %w", p.Host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("connectinfo: resolve %q: no addresses", p.Host)
	}

	did, err := deviceid.New()
	if err != nil {
		return nil, fmt.Errorf("connectinfo: synthesize device id: %w", err)
	}

	return &ConnectInfo{
		PS5:                       p.PS5,
		HostAddrs:                 addrs,
		Host:                      p.Host,
		RegistKey:                 p.RegistKey,
		Morning:                   p.Morning,
		DID:                       did,
		VideoProfile:              p.VideoProfile,
		VideoProfileAutoDowngrade: p.VideoProfileAutoDowngrade,
		EnableKeyboard:            p.EnableKeyboard,
	}, nil
}

// RegistKeyHex renders RegistKey as hex, truncated at the first NUL byte —
// the form sent on the wire in the RP-Registkey header (spec.md §4.3/§8
// "Hex encoding of regist_key truncated at first NUL round-trips").
func (c *ConnectInfo) RegistKeyHex() string {
	n := len(c.RegistKey)
	for i, b := range c.RegistKey {
		if b == 0 {
			n = i
			break
		}
	}
	return fmt.Sprintf("%x", c.RegistKey[:n])
}
