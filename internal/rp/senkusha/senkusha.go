// Package senkusha measures the network path between this host and the
// console before streaming starts: an MTU probe (largest UDP echo payload
// that round-trips intact) and an RTT sample (mean round trip of a handful
// of small echoes). Both use the same deadline-driven, cancelable I/O style
// as the rest of this codebase's blocking network operations (spec.md §4.6
// "Senkusha").
package senkusha

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/alxayo/rp-session/internal/bufpool"
	rerrors "github.com/alxayo/rp-session/internal/errors"
	"github.com/alxayo/rp-session/internal/logger"
	"github.com/alxayo/rp-session/internal/stoppipe"
)

// Port is the fixed UDP port the MTU/RTT probe talks to.
const Port = 9297

// mtuCandidates are probed from largest to smallest; the first one that
// echoes successfully wins. Values mirror common path MTUs after subtracting
// IP/UDP overhead.
var mtuCandidates = []int{1452, 1400, 1300, 1200, 1024, 576}

const (
	rttSamples   = 5
	probeTimeout = 1 * time.Second
)

// Result is the measured path characteristics.
type Result struct {
	MTU int
	RTT time.Duration
}

// Probe measures MTU and RTT against host. On failure to determine either
// value, the caller is expected to substitute the conservative fallback
// values named in spec.md §4.6 rather than treat this as fatal — Probe
// itself only reports what it could measure.
func Probe(ctx context.Context, sp *stoppipe.StopPipe, host string) (Result, error) {
	log := logger.WithPhase(logger.Logger(), "senkusha")

	conn, err := dial(ctx, sp, host)
	if err != nil {
		return Result{}, rerrors.NewSenkushaError("dial", err)
	}
	defer conn.Close()

	mtu, err := probeMTU(sp, conn)
	if err != nil {
		log.Warn("senkusha: mtu probe incomplete", "error", err)
	}

	rtt, err := probeRTT(sp, conn)
	if err != nil {
		log.Warn("senkusha: rtt probe incomplete", "error", err)
	}

	if mtu == 0 && rtt == 0 {
		return Result{}, rerrors.NewSenkushaError("probe", fmt.Errorf("no usable measurements"))
	}
	return Result{MTU: mtu, RTT: rtt}, nil
}

func dial(ctx context.Context, sp *stoppipe.StopPipe, host string) (net.Conn, error) {
	dialCtx, cancel := sp.Context(ctx)
	defer cancel()
	var d net.Dialer
	return d.DialContext(dialCtx, "udp", fmt.Sprintf("%s:%d", host, Port))
}

// probeMTU sends each candidate size largest-first and returns the first
// one that echoes back intact.
func probeMTU(sp *stoppipe.StopPipe, conn net.Conn) (int, error) {
	for _, size := range mtuCandidates {
		if sp.Stopped() {
			return 0, rerrors.NewCanceled("senkusha.probeMTU")
		}
		payload := bufpool.Get(size)
		for i := range payload {
			payload[i] = byte(i)
		}
		ok := echo(conn, payload)
		bufpool.Put(payload)
		if ok {
			return size, nil
		}
	}
	return 0, fmt.Errorf("no mtu candidate echoed successfully")
}

// probeRTT sends rttSamples small echoes and returns the mean round trip.
func probeRTT(sp *stoppipe.StopPipe, conn net.Conn) (time.Duration, error) {
	var total time.Duration
	var n int
	payload := []byte("rtt-probe")
	for i := 0; i < rttSamples; i++ {
		if sp.Stopped() {
			return 0, rerrors.NewCanceled("senkusha.probeRTT")
		}
		start := time.Now()
		if !echo(conn, payload) {
			continue
		}
		total += time.Since(start)
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no rtt sample succeeded")
	}
	return total / time.Duration(n), nil
}

func echo(conn net.Conn, payload []byte) bool {
	_ = conn.SetDeadline(time.Now().Add(probeTimeout))
	if _, err := conn.Write(payload); err != nil {
		return false
	}
	buf := bufpool.Get(len(payload))
	defer bufpool.Put(buf)
	n, err := conn.Read(buf)
	if err != nil || n != len(payload) {
		return false
	}
	return bytes.Equal(buf[:n], payload)
}
