// Package ctrl implements the control-channel collaborator: the long-lived
// encrypted connection that carries the session id, PIN challenge/response,
// on-screen-keyboard text, and the bed/quit signal (spec.md §4.5 "Ctrl").
package ctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/rp-session/internal/bufpool"
	rerrors "github.com/alxayo/rp-session/internal/errors"
	"github.com/alxayo/rp-session/internal/logger"
	"github.com/alxayo/rp-session/internal/rp/quitreason"
	"github.com/alxayo/rp-session/internal/rp/rpcrypt"
	"github.com/alxayo/rp-session/internal/stoppipe"
)

// Port is the fixed TCP port the control channel connects to.
const Port = 9296

const (
	sendTimeout    = 500 * time.Millisecond
	outboundDepth  = 16
	maxFrameLength = 64 * 1024
)

// MessageType identifies the payload carried by one control frame.
type MessageType byte

const (
	MsgSessionID MessageType = iota + 1
	MsgLoginPINRequest
	MsgLoginPIN
	MsgLoginPINIncorrect
	MsgKeyboardOpen
	MsgKeyboardSetText
	MsgKeyboardAccept
	MsgKeyboardReject
	MsgGotoBed
	MsgHeartbeat
	MsgQuit
)

// Notifier receives asynchronous events observed on the control channel. A
// Session implements this to drive its own state machine (spec.md §4.4).
type Notifier interface {
	OnSessionID(id string)
	OnLoginPINRequested(incorrect bool)
	OnKeyboardOpen()
	OnQuit(reason quitreason.Reason)
	OnFailed(err error)
}

// Ctrl owns the control-channel connection lifecycle: connect, a decrypting
// read loop that dispatches to Notifier, and a backpressured encrypting
// write loop, mirroring the accepted-connection lifecycle pattern used
// elsewhere in this codebase (ctx/cancel/wg, outbound queue with a send
// timeout, callback dispatch from the read loop).
type Ctrl struct {
	conn     net.Conn
	crypt    *rpcrypt.RPCrypt
	notifier Notifier
	log      *slog.Logger

	sp     *stoppipe.StopPipe
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outbound chan frame
}

type frame struct {
	typ     MessageType
	payload []byte
}

// New constructs a Ctrl bound to an already-dialed connection and an
// already-derived RPCrypt. The caller (the session state machine) owns
// dialing so it can apply its own address-selection and stop-pipe policy,
// matching how the session-request exchange is structured.
func New(conn net.Conn, crypt *rpcrypt.RPCrypt, notifier Notifier, sp *stoppipe.StopPipe) *Ctrl {
	return &Ctrl{
		conn:     conn,
		crypt:    crypt,
		notifier: notifier,
		log:      logger.WithPhase(logger.Logger(), "ctrl"),
		sp:       sp,
		outbound: make(chan frame, outboundDepth),
	}
}

// Start launches the read and write loops. It returns once both goroutines
// are running; failures are reported asynchronously via Notifier.OnFailed.
func (c *Ctrl) Start(parent context.Context) {
	c.ctx, c.cancel = c.sp.Context(parent)
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// Stop tears down the connection and unblocks both loops.
func (c *Ctrl) Stop() {
	c.sp.Poke()
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.conn.Close()
}

// Join blocks until both loops have exited.
func (c *Ctrl) Join() { c.wg.Wait() }

// SendLoginPIN submits a PIN in response to a LOGIN_PIN_REQUEST event.
func (c *Ctrl) SendLoginPIN(pin string) error {
	return c.enqueue(MsgLoginPIN, []byte(pin))
}

// KeyboardSetText forwards on-screen-keyboard text to the console.
func (c *Ctrl) KeyboardSetText(text string) error {
	return c.enqueue(MsgKeyboardSetText, []byte(text))
}

// KeyboardAccept confirms the on-screen-keyboard text entry.
func (c *Ctrl) KeyboardAccept() error { return c.enqueue(MsgKeyboardAccept, nil) }

// KeyboardReject cancels the on-screen-keyboard text entry.
func (c *Ctrl) KeyboardReject() error { return c.enqueue(MsgKeyboardReject, nil) }

// GotoBed asks the console to suspend Remote Play without disconnecting.
func (c *Ctrl) GotoBed() error { return c.enqueue(MsgGotoBed, nil) }

func (c *Ctrl) enqueue(typ MessageType, payload []byte) error {
	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return rerrors.NewCanceled("ctrl.enqueue")
	case c.outbound <- frame{typ: typ, payload: payload}:
		return nil
	case <-timer.C:
		return rerrors.NewCtrlError("enqueue", fmt.Errorf("send queue full (len=%d)", len(c.outbound)))
	}
}

func (c *Ctrl) readLoop() {
	defer c.wg.Done()
	r := c.conn
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_ = setReadDeadline(r, 30*time.Second)
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			c.handleReadError(err)
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 || n > maxFrameLength {
			c.notifier.OnFailed(rerrors.NewCtrlError("read frame", fmt.Errorf("invalid frame length %d", n)))
			return
		}
		buf := bufpool.Get(int(n))
		if _, err := io.ReadFull(r, buf); err != nil {
			bufpool.Put(buf)
			c.handleReadError(err)
			return
		}
		plain, err := c.crypt.Decrypt(buf)
		bufpool.Put(buf)
		if err != nil {
			c.notifier.OnFailed(rerrors.NewCtrlError("decrypt frame", err))
			return
		}
		if len(plain) < 1 {
			c.notifier.OnFailed(rerrors.NewCtrlError("read frame", fmt.Errorf("empty frame")))
			return
		}
		c.dispatch(MessageType(plain[0]), plain[1:])
	}
}

func (c *Ctrl) dispatch(typ MessageType, payload []byte) {
	switch typ {
	case MsgSessionID:
		c.notifier.OnSessionID(string(payload))
	case MsgLoginPINRequest:
		c.notifier.OnLoginPINRequested(false)
	case MsgLoginPINIncorrect:
		c.notifier.OnLoginPINRequested(true)
	case MsgKeyboardOpen:
		c.notifier.OnKeyboardOpen()
	case MsgHeartbeat:
		// No payload, no action: presence alone resets the peer's idle timer.
	case MsgQuit:
		reason := quitreason.CtrlUnknown
		if len(payload) >= 1 {
			reason = quitreason.Reason(payload[0])
		}
		c.notifier.OnQuit(reason)
	default:
		c.log.Warn("ctrl: unrecognized frame type", "type", typ)
	}
}

func (c *Ctrl) handleReadError(err error) {
	if c.sp.Stopped() || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return
	}
	if errors.Is(err, io.EOF) {
		c.notifier.OnQuit(quitreason.CtrlUnknown)
		return
	}
	c.notifier.OnFailed(rerrors.NewCtrlError("read frame", err))
}

func (c *Ctrl) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.outbound:
			if err := c.writeFrame(f); err != nil {
				if c.sp.Stopped() || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
					return
				}
				c.notifier.OnFailed(rerrors.NewCtrlError("write frame", err))
				return
			}
		}
	}
}

func (c *Ctrl) writeFrame(f frame) error {
	plain := make([]byte, 1+len(f.payload))
	plain[0] = byte(f.typ)
	copy(plain[1:], f.payload)

	cipherText, err := c.crypt.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt frame: %w", err)
	}

	_ = setWriteDeadline(c.conn, 5*time.Second)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(cipherText)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = c.conn.Write(cipherText)
	return err
}

func setReadDeadline(conn net.Conn, d time.Duration) error {
	return conn.SetReadDeadline(time.Now().Add(d))
}

func setWriteDeadline(conn net.Conn, d time.Duration) error {
	return conn.SetWriteDeadline(time.Now().Add(d))
}
