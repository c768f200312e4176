package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alxayo/rp-session/internal/rp/rpcrypt"
	"github.com/alxayo/rp-session/internal/rp/target"
	"github.com/alxayo/rp-session/internal/stoppipe"
)

func testCrypt(t *testing.T) *rpcrypt.RPCrypt {
	t.Helper()
	rc, err := rpcrypt.New(target.PS5_1, [16]byte{1, 2, 3}, [16]byte{4, 5, 6})
	if err != nil {
		t.Fatalf("rpcrypt.New: %v", err)
	}
	return rc
}

func TestRunReturnsSuccessOnGracefulStop(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go drain(server)

	sc := New(client, testCrypt(t), stoppipe.New())
	resultCh := make(chan struct {
		o   Outcome
		err error
	}, 1)
	go func() {
		o, err := sc.Run(context.Background())
		resultCh <- struct {
			o   Outcome
			err error
		}{o, err}
	}()

	time.Sleep(50 * time.Millisecond)
	sc.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Run: %v", res.err)
		}
		if res.o != Success {
			t.Fatalf("Outcome = %v, want Success", res.o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestRunReturnsCanceledOnStopPipe(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go drain(server)

	sp := stoppipe.New()
	sc := New(client, testCrypt(t), sp)
	resultCh := make(chan Outcome, 1)
	go func() {
		o, _ := sc.Run(context.Background())
		resultCh <- o
	}()

	time.Sleep(50 * time.Millisecond)
	sp.Poke()

	select {
	case o := <-resultCh:
		if o != Canceled {
			t.Fatalf("Outcome = %v, want Canceled", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestRunReturnsDisconnectedWhenPeerCloses(t *testing.T) {
	client, server := net.Pipe()
	go drain(server)

	sc := New(client, testCrypt(t), stoppipe.New())
	resultCh := make(chan Outcome, 1)
	go func() {
		o, _ := sc.Run(context.Background())
		resultCh <- o
	}()

	time.Sleep(50 * time.Millisecond)
	server.Close()

	select {
	case o := <-resultCh:
		if o != Disconnected {
			t.Fatalf("Outcome = %v, want Disconnected", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

// drain discards whatever the feedback loop writes so sendFeedback never
// blocks on net.Pipe's synchronous rendezvous.
func drain(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			return
		}
	}
}
