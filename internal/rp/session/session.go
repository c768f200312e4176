// Package session implements the core Remote Play session orchestrator: the
// state machine that drives the session-request exchange, the control
// channel, the network probe, and the hand-off to streaming, reporting its
// outcome through an EventHandler (spec.md §3/§4.4 "Session").
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	rerrors "github.com/alxayo/rp-session/internal/errors"
	"github.com/alxayo/rp-session/internal/logger"
	"github.com/alxayo/rp-session/internal/metrics"
	"github.com/alxayo/rp-session/internal/rp/connectinfo"
	"github.com/alxayo/rp-session/internal/rp/ctrl"
	"github.com/alxayo/rp-session/internal/rp/ecdhx"
	"github.com/alxayo/rp-session/internal/rp/quitreason"
	"github.com/alxayo/rp-session/internal/rp/rpcrypt"
	"github.com/alxayo/rp-session/internal/rp/senkusha"
	"github.com/alxayo/rp-session/internal/rp/sessionrequest"
	"github.com/alxayo/rp-session/internal/rp/stream"
	"github.com/alxayo/rp-session/internal/rp/target"
	"github.com/alxayo/rp-session/internal/stoppipe"
)

// State is the Session's current phase, exposed for logging/diagnostics.
type State int

const (
	StateInit State = iota
	StateSessionRequest
	StateCtrlConnect
	StateAwaitSessionID
	StateAwaitLoginPIN
	StateSenkusha
	StateStreamConnect
	StateStreaming
	StateQuit
)

func (s State) String() string {
	switch s {
	case StateSessionRequest:
		return "session_request"
	case StateCtrlConnect:
		return "ctrl_connect"
	case StateAwaitSessionID:
		return "await_session_id"
	case StateAwaitLoginPIN:
		return "await_login_pin"
	case StateSenkusha:
		return "senkusha"
	case StateStreamConnect:
		return "stream_connect"
	case StateStreaming:
		return "streaming"
	case StateQuit:
		return "quit"
	default:
		return "init"
	}
}

// fallbackMTU and fallbackRTT are substituted when the Senkusha probe cannot
// measure the path (spec.md §4.6: probe failure is not fatal to the session).
const (
	fallbackMTU = 1454
	fallbackRTT = 1000 * time.Microsecond
)

// maxSessionRequestAttempts bounds version renegotiation at two retries
// beyond the first attempt (spec.md §4.3).
const maxSessionRequestAttempts = 3

// EventHandler receives the asynchronous events a Session produces while it
// runs. Implementations must not block for long inside these callbacks.
// OnQuit is invoked from the Session's own goroutine; OnLoginPINRequest is
// invoked from the control channel's read goroutine.
type EventHandler interface {
	OnLoginPINRequest(incorrect bool)
	OnQuit(reason quitreason.Reason)
}

// Session drives one Remote Play connection attempt end to end.
type Session struct {
	ci            *connectinfo.ConnectInfo
	handler       EventHandler
	correlationID string
	log           *slog.Logger

	sp      *stoppipe.StopPipe
	metrics *metrics.Metrics

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	sessionID  string
	target     target.Target
	quitReason quitreason.Reason

	pinCh chan string

	ctrl       *ctrl.Ctrl
	streamConn *stream.StreamConnection

	wg sync.WaitGroup
}

// New constructs a Session bound to ci, recording its lifecycle into m (see
// internal/metrics.New — callers own the *prometheus.Registry m is bound to).
// The Session does not start running until Start is called.
func New(ci *connectinfo.ConnectInfo, handler EventHandler, m *metrics.Metrics) *Session {
	s := &Session{
		ci:            ci,
		handler:       handler,
		correlationID: uuid.NewString(),
		sp:            stoppipe.New(),
		metrics:       m,
		pinCh:         make(chan string, 1),
	}
	s.cond = sync.NewCond(&s.mu)
	s.log = logger.WithSession(logger.Logger(), s.correlationID, ci.Host)
	return s
}

// CorrelationID returns the session's stable correlation id, suitable for
// cross-referencing logs across the session's lifetime.
func (s *Session) CorrelationID() string { return s.correlationID }

// State returns the Session's current phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Start launches the state machine in a background goroutine and returns
// immediately. Progress and termination are reported via EventHandler.
func (s *Session) Start(ctx context.Context) {
	s.metrics.RecordSessionStarted(target.Initial(s.ci.PS5).String())
	finished := make(chan struct{})

	// A Stop() call must wake anything blocked on s.cond even when the
	// component being stopped (ctrl, stream) never itself reports a quit
	// reason for a plain cancellation.
	go func() {
		select {
		case <-s.sp.Done():
		case <-finished:
			return
		}
		s.mu.Lock()
		if s.quitReason == quitreason.None {
			s.quitReason = quitreason.Stopped
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(finished)
		reason := s.run(ctx)
		s.mu.Lock()
		s.quitReason = reason
		s.state = StateQuit
		s.cond.Broadcast()
		s.mu.Unlock()
		s.metrics.RecordSessionFinished(reason.String())
		s.handler.OnQuit(reason)
	}()
}

// Stop requests the session wind down; it does not block. Call Join to wait
// for termination.
func (s *Session) Stop() {
	s.sp.Poke()
	s.mu.Lock()
	c := s.ctrl
	sc := s.streamConn
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
	if sc != nil {
		sc.Stop()
	}
}

// Join blocks until the session's goroutine has fully exited.
func (s *Session) Join() { s.wg.Wait() }

// Fini releases any resources still held; safe to call after Join.
func (s *Session) Fini() {
	s.mu.Lock()
	s.ctrl = nil
	s.streamConn = nil
	s.mu.Unlock()
}

// SetLoginPin delivers the PIN in response to an OnLoginPINRequest event.
func (s *Session) SetLoginPin(pin string) {
	select {
	case s.pinCh <- pin:
	default:
	}
}

// SetControllerState forwards a controller input snapshot to the active
// stream connection, if one is established.
func (s *Session) SetControllerState(st stream.ControllerState) {
	s.mu.Lock()
	sc := s.streamConn
	s.mu.Unlock()
	if sc != nil {
		sc.SetControllerState(st)
	}
}

// KeyboardSetText forwards on-screen-keyboard text over the control channel.
func (s *Session) KeyboardSetText(text string) error {
	return s.withCtrl(func(c *ctrl.Ctrl) error { return c.KeyboardSetText(text) })
}

// KeyboardAccept confirms on-screen-keyboard text entry.
func (s *Session) KeyboardAccept() error {
	return s.withCtrl(func(c *ctrl.Ctrl) error { return c.KeyboardAccept() })
}

// KeyboardReject cancels on-screen-keyboard text entry.
func (s *Session) KeyboardReject() error {
	return s.withCtrl(func(c *ctrl.Ctrl) error { return c.KeyboardReject() })
}

// GotoBed asks the console to suspend Remote Play without disconnecting.
func (s *Session) GotoBed() error {
	return s.withCtrl(func(c *ctrl.Ctrl) error { return c.GotoBed() })
}

func (s *Session) withCtrl(fn func(*ctrl.Ctrl) error) error {
	s.mu.Lock()
	c := s.ctrl
	s.mu.Unlock()
	if c == nil {
		return rerrors.NewCtrlError("not connected", fmt.Errorf("control channel is not established"))
	}
	return fn(c)
}

// run executes the full negotiation pipeline and returns the terminal quit
// reason. It never returns quitreason.None: every exit path assigns one.
func (s *Session) run(ctx context.Context) quitreason.Reason {
	s.setState(StateSessionRequest)
	outcome, negotiatedTarget, err := s.negotiateSessionRequest(ctx)
	if err != nil {
		return s.classifySessionRequestError(err)
	}
	s.target = negotiatedTarget
	s.log = logger.WithTarget(s.log, negotiatedTarget.String(), mustVersion(negotiatedTarget))

	crypt, err := rpcrypt.New(negotiatedTarget, outcome.Nonce, s.ci.Morning)
	if err != nil {
		return quitreason.CtrlUnknown
	}

	s.setState(StateCtrlConnect)
	conn, err := s.dial(ctx, ctrl.Port)
	if err != nil {
		if rerrors.IsCanceled(err) {
			return quitreason.Stopped
		}
		if isRefused(err) {
			return quitreason.CtrlConnectionRefused
		}
		return quitreason.CtrlConnectFailed
	}

	c := ctrl.New(conn, crypt, s, s.sp)
	s.mu.Lock()
	s.ctrl = c
	s.mu.Unlock()
	c.Start(ctx)

	s.setState(StateAwaitSessionID)
	if reason, ok := s.awaitSessionIDOrPIN(); !ok {
		return reason
	}

	s.setState(StateSenkusha)
	mtu, rtt := s.probeNetwork(ctx)
	s.log.Info("senkusha measurement", "mtu", mtu, "rtt", rtt)

	s.setState(StateStreamConnect)
	streamNetConn, err := s.dial(ctx, stream.Port)
	if err != nil {
		if rerrors.IsCanceled(err) {
			return quitreason.Stopped
		}
		return quitreason.StreamConnectionUnknown
	}

	streamCrypt, err := s.handshakeStream(streamNetConn, crypt)
	if err != nil {
		streamNetConn.Close()
		if s.sp.Stopped() {
			return quitreason.Stopped
		}
		s.log.Warn("stream handshake failed", "error", err)
		return quitreason.CtrlUnknown
	}
	sc := stream.New(streamNetConn, streamCrypt, s.sp)
	s.mu.Lock()
	s.streamConn = sc
	s.mu.Unlock()

	s.setState(StateStreaming)
	result, err := sc.Run(ctx)
	s.metrics.RecordStreamOutcome(result.String())
	if err != nil {
		return quitreason.StreamConnectionUnknown
	}
	switch result {
	case stream.Disconnected:
		return quitreason.StreamConnectionRemoteDisconnected
	case stream.Canceled:
		return quitreason.Stopped
	default:
		return quitreason.Stopped
	}
}

func mustVersion(t target.Target) string {
	v, _ := target.VersionString(t)
	return v
}

// negotiateSessionRequest drives the session-request exchange through up to
// maxSessionRequestAttempts attempts, advancing the attempted target on a
// server-suggested renegotiation (spec.md §4.3 "Version renegotiation
// policy").
func (s *Session) negotiateSessionRequest(ctx context.Context) (*sessionrequest.Outcome, target.Target, error) {
	current := target.Initial(s.ci.PS5)
	var out *sessionrequest.Outcome
	attempt := 0

	err := retry.Do(
		func() error {
			attempt++
			allowRenegotiation := attempt < maxSessionRequestAttempts
			o, err := sessionrequest.Do(ctx, s.sp, s.ci, current, allowRenegotiation)
			if err == nil {
				out = o
				return nil
			}
			if errors.Is(err, sessionrequest.ErrVersionMismatch) && o != nil && o.Renegotiable {
				s.metrics.RecordRenegotiation(o.NextTarget.String())
				s.log.Info("session request: renegotiating target", "next_target", o.NextTarget)
				current = o.NextTarget
				return err
			}
			return retry.Unrecoverable(err)
		},
		retry.Attempts(maxSessionRequestAttempts),
		retry.Delay(0),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, target.Unknown, err
	}
	return out, current, nil
}

func (s *Session) classifySessionRequestError(err error) quitreason.Reason {
	if rerrors.IsCanceled(err) {
		return quitreason.Stopped
	}
	var qerr *sessionrequest.QuitReasonError
	if errors.As(err, &qerr) {
		return qerr.Reason
	}
	return quitreason.SessionRequestUnknown
}

// awaitSessionIDOrPIN blocks until the control channel reports a session id
// (success) or the Session goroutine is stopped/failed. PIN requests are
// handled transparently: each one is surfaced to the caller and this method
// keeps waiting for the eventual session id.
func (s *Session) awaitSessionIDOrPIN() (quitreason.Reason, bool) {
	s.mu.Lock()
	for s.sessionID == "" && s.quitReason == quitreason.None {
		s.cond.Wait()
	}
	sessionID := s.sessionID
	reason := s.quitReason
	s.mu.Unlock()

	if sessionID != "" {
		return quitreason.None, true
	}
	return reason, false
}

func (s *Session) probeNetwork(ctx context.Context) (mtu int, rtt time.Duration) {
	res, err := senkusha.Probe(ctx, s.sp, s.ci.Host)
	if err != nil {
		s.log.Warn("senkusha probe failed, using fallback path characteristics", "error", err)
		return fallbackMTU, fallbackRTT
	}
	mtu, rtt = res.MTU, res.RTT
	s.metrics.RecordSenkusha(float64(mtu), rtt.Seconds())
	if mtu == 0 {
		mtu = fallbackMTU
	}
	if rtt == 0 {
		rtt = fallbackRTT
	}
	return mtu, rtt
}

// handshakeStream performs the state machine's pre-streaming key agreement:
// a fresh handshake_key plus a Curve25519 exchange with the console, folded
// into a stream-specific RPCrypt derived from the control channel's key
// material so the stream connection's crypto is independent of Ctrl's
// ongoing traffic (spec.md §4.4 step 7: "Generate handshake_key via secure
// random; init ECDH").
func (s *Session) handshakeStream(conn net.Conn, ctrlCrypt *rpcrypt.RPCrypt) (*rpcrypt.RPCrypt, error) {
	var handshakeKey [32]byte
	if _, err := rand.Read(handshakeKey[:]); err != nil {
		return nil, fmt.Errorf("generate handshake_key: %w", err)
	}

	kp, err := ecdhx.Generate()
	if err != nil {
		return nil, fmt.Errorf("init ecdh: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(kp.Public[:]); err != nil {
		return nil, fmt.Errorf("write ecdh public key: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var peerPublic [32]byte
	if _, err := io.ReadFull(conn, peerPublic[:]); err != nil {
		return nil, fmt.Errorf("read peer ecdh public key: %w", err)
	}
	secret, err := kp.SharedSecret(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("compute ecdh shared secret: %w", err)
	}

	return ctrlCrypt.DeriveStreamCrypt(handshakeKey, secret)
}

func (s *Session) dial(ctx context.Context, port int) (net.Conn, error) {
	dialCtx, cancel := s.sp.Context(ctx)
	defer cancel()
	var lastErr error
	for _, addr := range s.ci.HostAddrs {
		if s.sp.Stopped() {
			return nil, rerrors.NewCanceled("session.dial")
		}
		tcpAddr := &net.TCPAddr{IP: addr.IP, Zone: addr.Zone, Port: port}
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", tcpAddr.String())
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no usable addresses")
	}
	return nil, lastErr
}

func isRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && strings.Contains(opErr.Err.Error(), "refused")
}

// --- ctrl.Notifier implementation ---

// OnSessionID records the session id and wakes any goroutine blocked in
// awaitSessionIDOrPIN.
func (s *Session) OnSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.cond.Broadcast()
	s.mu.Unlock()
}

// OnLoginPINRequested forwards a PIN challenge to the EventHandler, then
// waits (without holding the state lock) for SetLoginPin and submits it.
func (s *Session) OnLoginPINRequested(incorrect bool) {
	outcome := "requested"
	if incorrect {
		outcome = "incorrect"
	}
	s.metrics.RecordLoginPINAttempt(outcome)
	s.setState(StateAwaitLoginPIN)
	s.handler.OnLoginPINRequest(incorrect)

	select {
	case pin := <-s.pinCh:
		s.mu.Lock()
		c := s.ctrl
		s.mu.Unlock()
		if c != nil {
			if err := c.SendLoginPIN(pin); err != nil {
				s.log.Warn("failed to send login pin", "error", err)
			}
		}
	case <-s.sp.Done():
	}
}

// OnKeyboardOpen is currently only logged: on-screen-keyboard text entry is
// driven by the caller via KeyboardSetText/Accept/Reject.
func (s *Session) OnKeyboardOpen() {
	s.log.Debug("on-screen keyboard opened")
}

// OnQuit records a ctrl-originated quit reason so the blocked run() goroutine
// can wake up and report it.
func (s *Session) OnQuit(reason quitreason.Reason) {
	s.mu.Lock()
	if s.quitReason == quitreason.None {
		s.quitReason = reason
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// OnFailed records a ctrl-originated failure as an unknown-cause quit.
func (s *Session) OnFailed(err error) {
	s.log.Warn("ctrl failure", "error", err)
	s.mu.Lock()
	if s.quitReason == quitreason.None {
		s.quitReason = quitreason.CtrlUnknown
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}
