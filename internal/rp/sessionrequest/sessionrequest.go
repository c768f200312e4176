// Package sessionrequest implements the single-shot HTTP/1.1 GET exchange
// that kicks off a Remote Play session (spec.md §4.3/§6): a non-blocking
// connect to TCP port 9295, a hand-built request with the fixed Remote Play
// headers, and a deliberately idiosyncratic response scan (two headers
// matched case-sensitively, one case-insensitively) that net/http's
// canonicalizing header parser cannot express — see DESIGN.md.
package sessionrequest

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	rerrors "github.com/alxayo/rp-session/internal/errors"
	"github.com/alxayo/rp-session/internal/logger"
	"github.com/alxayo/rp-session/internal/rp/connectinfo"
	"github.com/alxayo/rp-session/internal/rp/quitreason"
	"github.com/alxayo/rp-session/internal/rp/target"
	"github.com/alxayo/rp-session/internal/stoppipe"
)

// Port is the fixed TCP port the session-request exchange dials.
const Port = 9295

// dialTimeout bounds a single address attempt; the stop-pipe can still cut
// it short earlier.
const dialTimeout = 5 * time.Second

// nonceSize is the crypto key size the decoded RP-Nonce must match exactly.
const nonceSize = 16

// ApplicationReason is the server-side RP-Application-Reason code.
type ApplicationReason int

const (
	ReasonUnknown ApplicationReason = iota
	ReasonRegistFailed
	ReasonInvalidPSNID
	ReasonInUse
	ReasonCrash
	ReasonRPVersion
)

// ErrVersionMismatch is returned when the server rejected our RP-Version.
// Outcome.Renegotiable and Outcome.NextTarget carry what the caller needs to
// decide whether, and how, to retry (spec.md §4.3 "Version renegotiation
// policy (driven by the state machine)").
var ErrVersionMismatch = errors.New("sessionrequest: version mismatch")

// Outcome is the result of one Do call.
type Outcome struct {
	Nonce        [nonceSize]byte
	SelectedAddr net.Addr

	// Only meaningful when the returned error is ErrVersionMismatch.
	NextTarget  target.Target
	Renegotiable bool
}

// Do performs the session-request exchange against the first address in
// ci.HostAddrs that accepts a TCP connection on Port, using tgt as the
// RP-Version to advertise. allowRenegotiation controls whether a mismatch
// response is allowed to suggest a NextTarget (the policy in spec.md §4.3
// caps this at two attempts; the third call passes allowRenegotiation=false).
func Do(ctx context.Context, sp *stoppipe.StopPipe, ci *connectinfo.ConnectInfo, tgt target.Target, allowRenegotiation bool) (*Outcome, error) {
	version, ok := target.VersionString(tgt)
	if !ok {
		return nil, rerrors.NewSessionRequestError("build request", fmt.Errorf("target %s has no version string", tgt))
	}

	dialCtx, cancel := sp.Context(ctx)
	defer cancel()

	var lastRefused error
	for _, addr := range ci.HostAddrs {
		if sp.Stopped() {
			return nil, rerrors.NewCanceled("sessionrequest.connect")
		}
		conn, numericHost, err := dialOne(dialCtx, addr)
		if err != nil {
			if sp.Stopped() || errors.Is(err, context.Canceled) {
				return nil, rerrors.NewCanceled("sessionrequest.connect")
			}
			if isConnectionRefused(err) {
				lastRefused = err
				continue
			}
			lastRefused = err
			continue
		}

		out, err := exchange(conn, ci, tgt, version, numericHost, allowRenegotiation)
		_ = conn.Close()
		if out != nil {
			out.SelectedAddr = conn.RemoteAddr()
		}
		if err == nil || errors.Is(err, ErrVersionMismatch) {
			return out, err
		}
		// A non-mismatch failure on a reachable address is final per
		// spec.md §4.3 — we do not keep iterating addresses after a
		// substantive protocol-level rejection, only after dial failures.
		return out, err
	}

	if lastRefused != nil {
		logger.Logger().Warn("session request: all addresses refused", "error", lastRefused)
		return nil, &QuitReasonError{Reason: quitreason.SessionRequestConnectionRefused, Err: rerrors.NewSessionRequestError("connect", lastRefused)}
	}
	return nil, &QuitReasonError{Reason: quitreason.SessionRequestUnknown, Err: rerrors.NewSessionRequestError("connect", fmt.Errorf("no usable addresses"))}
}

// QuitReasonError carries the spec.md quit reason a terminal
// sessionrequest failure should produce, so the state machine can apply it
// directly without re-deriving it from the error's shape.
type QuitReasonError struct {
	Reason quitreason.Reason
	Err    error
}

func (e *QuitReasonError) Error() string { return e.Err.Error() }
func (e *QuitReasonError) Unwrap() error { return e.Err }

func dialOne(ctx context.Context, addr net.IPAddr) (net.Conn, string, error) {
	tcpAddr := &net.TCPAddr{IP: addr.IP, Zone: addr.Zone, Port: Port}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		return nil, "", err
	}
	return conn, addr.IP.String(), nil
}

func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return strings.Contains(opErr.Err.Error(), "refused")
	}
	return strings.Contains(err.Error(), "refused")
}

func requestPath(tgt target.Target) string {
	switch tgt {
	case target.PS4_8, target.PS4_9:
		return "/sce/rp/session"
	default:
		if tgt.IsPS5() {
			return "/sie/ps5/rp/sess/init"
		}
		return "/sie/ps4/rp/sess/init"
	}
}

func exchange(conn net.Conn, ci *connectinfo.ConnectInfo, tgt target.Target, version, numericHost string, allowRenegotiation bool) (*Outcome, error) {
	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\n"+
			"Host: %s:%d\r\n"+
			"User-Agent: remoteplay Windows\r\n"+
			"Connection: close\r\n"+
			"Content-Length: 0\r\n"+
			"RP-Registkey: %s\r\n"+
			"Rp-Version: %s\r\n\r\n",
		requestPath(tgt), numericHost, Port, ci.RegistKeyHex(), version,
	)

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(req)); err != nil {
		return nil, rerrors.NewSessionRequestError("write request", err)
	}

	status, headers, err := readResponse(conn)
	if err != nil {
		return nil, &QuitReasonError{Reason: quitreason.SessionRequestUnknown, Err: rerrors.NewSessionRequestError("read response", err)}
	}

	nonce, haveNonce := headers.exact("RP-Nonce")
	reasonHex, haveReason := headers.exact("RP-Application-Reason")
	serverVersion, haveVersion := headers.foldCase("RP-Version")

	if status == 200 && haveNonce {
		raw, err := base64.StdEncoding.DecodeString(nonce)
		if err != nil {
			return nil, &QuitReasonError{Reason: quitreason.SessionRequestUnknown, Err: rerrors.NewSessionRequestError("decode nonce", err)}
		}
		if len(raw) != nonceSize {
			return nil, &QuitReasonError{Reason: quitreason.SessionRequestUnknown, Err: rerrors.NewSessionRequestError("decode nonce", fmt.Errorf("nonce length %d != %d", len(raw), nonceSize))}
		}
		var out Outcome
		copy(out.Nonce[:], raw)
		return &out, nil
	}

	reason := ReasonUnknown
	if haveReason {
		if code, err := strconv.ParseInt(reasonHex, 16, 64); err == nil {
			reason = applicationReasonFromCode(code)
		}
	}

	if (reason == ReasonRPVersion || reason == ReasonUnknown) && allowRenegotiation && haveVersion && serverVersion != version {
		if serverVersion == "5.0" {
			return &Outcome{Renegotiable: true, NextTarget: target.PS4_9}, ErrVersionMismatch
		}
		parsed := target.Parse(serverVersion, ci.PS5)
		if !parsed.IsUnknown() {
			return &Outcome{Renegotiable: true, NextTarget: parsed}, ErrVersionMismatch
		}
		return &Outcome{Renegotiable: false}, &QuitReasonError{Reason: quitreason.SessionRequestRPVersionMismatch, Err: ErrVersionMismatch}
	}

	switch reason {
	case ReasonInUse:
		return nil, &QuitReasonError{Reason: quitreason.SessionRequestRPInUse, Err: rerrors.NewSessionRequestError("session request", fmt.Errorf("already in use"))}
	case ReasonCrash:
		return nil, &QuitReasonError{Reason: quitreason.SessionRequestRPCrash, Err: rerrors.NewSessionRequestError("session request", fmt.Errorf("remote play crashed"))}
	case ReasonRPVersion:
		return &Outcome{}, &QuitReasonError{Reason: quitreason.SessionRequestRPVersionMismatch, Err: ErrVersionMismatch}
	default:
		return nil, &QuitReasonError{Reason: quitreason.SessionRequestUnknown, Err: rerrors.NewSessionRequestError("session request", fmt.Errorf("status=%d reason=%s", status, hex.EncodeToString([]byte(reasonHex))))}
	}
}

func applicationReasonFromCode(code int64) ApplicationReason {
	switch code {
	case 0x80108b09:
		return ReasonRPVersion
	case 0x80108b10:
		return ReasonInUse
	case 0x80108b0f:
		return ReasonCrash
	case 0x80108b15:
		return ReasonRegistFailed
	case 0x80108b16:
		return ReasonInvalidPSNID
	default:
		return ReasonUnknown
	}
}

// headerSet preserves header casing exactly as received, so the exchange can
// honor spec.md's mixed case-sensitivity rule for RP-Nonce/RP-Application-Reason
// vs RP-Version.
type headerSet []headerField

type headerField struct {
	Name  string
	Value string
}

func (h headerSet) exact(name string) (string, bool) {
	for _, f := range h {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (h headerSet) foldCase(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

func readResponse(conn net.Conn) (status int, headers headerSet, err error) {
	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return 0, nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return 0, nil, fmt.Errorf("malformed status line %q", statusLine)
	}
	status, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("malformed status code %q", parts[1])
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		headers = append(headers, headerField{Name: name, Value: value})
	}
	return status, headers, nil
}
