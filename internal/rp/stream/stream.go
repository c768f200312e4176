// Package stream implements the StreamConnection collaborator: once control
// negotiation completes, this owns the A/V socket for the lifetime of
// playback — a feedback send loop reporting controller state at a fixed
// interval and a receive loop that drains incoming A/V frames, watching only
// for the peer-initiated disconnect (decoding frame payloads is out of scope
// here; spec.md §4.7 "StreamConnection").
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	rerrors "github.com/alxayo/rp-session/internal/errors"
	"github.com/alxayo/rp-session/internal/logger"
	"github.com/alxayo/rp-session/internal/rp/rpcrypt"
	"github.com/alxayo/rp-session/internal/stoppipe"
)

// Outcome classifies why Run returned.
type Outcome int

const (
	Unknown Outcome = iota
	Success
	Disconnected
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Disconnected:
		return "disconnected"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Port is the fixed TCP port the A/V stream connects to after handoff.
const Port = 9303

const feedbackInterval = 100 * time.Millisecond

// ControllerState is the most recent input snapshot reported on the
// feedback channel.
type ControllerState struct {
	Buttons uint32
	LeftX   int8
	LeftY   int8
	RightX  int8
	RightY  int8
}

// StreamConnection owns the A/V socket from handoff until the stream ends.
type StreamConnection struct {
	conn  net.Conn
	crypt *rpcrypt.RPCrypt
	sp    *stoppipe.StopPipe

	stateMu sync.Mutex
	state   ControllerState

	doneOnce sync.Once
	done     chan struct{}
}

// New constructs a StreamConnection bound to an already-connected socket and
// an already-derived RPCrypt, matching Ctrl's construction shape.
func New(conn net.Conn, crypt *rpcrypt.RPCrypt, sp *stoppipe.StopPipe) *StreamConnection {
	return &StreamConnection{conn: conn, crypt: crypt, sp: sp, done: make(chan struct{})}
}

// Stop ends the stream gracefully (as opposed to the whole session's
// stop-pipe firing): Run returns Success rather than Canceled.
func (s *StreamConnection) Stop() {
	s.doneOnce.Do(func() { close(s.done) })
}

// SetControllerState updates the snapshot the feedback loop next reports.
func (s *StreamConnection) SetControllerState(st ControllerState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *StreamConnection) snapshotState() ControllerState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Run drives the feedback send loop and the A/V receive loop concurrently
// until either exits, then tears down the other and returns a single
// Outcome for the caller's state machine to act on.
func (s *StreamConnection) Run(ctx context.Context) (Outcome, error) {
	log := logger.WithPhase(logger.Logger(), "stream")
	runCtx, cancel := s.sp.Context(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.feedbackLoop(gctx) })
	g.Go(func() error { return s.recvLoop(gctx) })

	err := g.Wait()
	_ = s.conn.Close()

	switch {
	case err == nil:
		return Success, nil
	case rerrors.IsCanceled(err):
		return Canceled, nil
	case errors.Is(err, errDisconnected):
		log.Info("stream connection: peer disconnected")
		return Disconnected, nil
	default:
		return Unknown, rerrors.NewStreamError("run", err)
	}
}

var errDisconnected = errors.New("stream: peer disconnected")

func (s *StreamConnection) feedbackLoop(ctx context.Context) error {
	ticker := time.NewTicker(feedbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sendFeedback(); err != nil {
				return err
			}
		}
	}
}

func (s *StreamConnection) sendFeedback() error {
	st := s.snapshotState()
	plain := make([]byte, 8)
	binary.BigEndian.PutUint32(plain[0:4], st.Buttons)
	plain[4] = byte(st.LeftX)
	plain[5] = byte(st.LeftY)
	plain[6] = byte(st.RightX)
	plain[7] = byte(st.RightY)

	cipherText, err := s.crypt.Encrypt(plain)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = s.conn.Write(cipherText)
	return err
}

const recvPollInterval = 200 * time.Millisecond

func (s *StreamConnection) recvLoop(ctx context.Context) error {
	buf := make([]byte, 65536)
	for {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(recvPollInterval))
		n, err := s.conn.Read(buf)
		if err != nil {
			if s.sp.Stopped() {
				return context.Canceled
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return errDisconnected
			}
			return err
		}
		if n == 0 {
			continue
		}
		// Frame payloads (A/V samples) are decoded downstream of this
		// collaborator; here we only need liveness.
	}
}
