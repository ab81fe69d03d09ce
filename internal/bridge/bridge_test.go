package bridge

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grantwilk/busnode/internal/buserr"
	"github.com/grantwilk/busnode/internal/frame"
	"github.com/grantwilk/busnode/internal/hub"
)

// dial performs the bridge hello/OK handshake over a fresh connection.
func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if line != ack+"\n" {
		t.Fatalf("got ack %q, want %q", line, ack+"\n")
	}
	return conn
}

func startServer(t *testing.T, opts ...Option) (*Server, func()) {
	t.Helper()
	srv := NewServer(append([]Option{
		WithListenAddr("127.0.0.1:0"),
		WithHandshakeTimeout(2 * time.Second),
	}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server never became ready")
	}
	return srv, func() {
		cancel()
		_ = srv.Shutdown(context.Background())
		<-done
	}
}

func TestHandshakeThenHubBroadcastReachesClient(t *testing.T) {
	h := hub.New()
	srv, stop := startServer(t, WithHub(h), WithSend(func(frame.Frame) error { return nil }))
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let acceptOnce register the client
	h.Broadcast(frame.Frame{Source: 0x01, Destination: 0x02, Payload: []byte{0x41}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	fr, err := (Codec{}).Decode(conn)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fr.Source != 0x01 || fr.Destination != 0x02 || len(fr.Payload) != 1 || fr.Payload[0] != 0x41 {
		t.Fatalf("got %+v, want src=0x01 dst=0x02 payload=[0x41]", fr)
	}
}

func TestInjectedFrameReachesBackend(t *testing.T) {
	var mu sync.Mutex
	var got []frame.Frame
	send := func(fr frame.Frame) error {
		mu.Lock()
		got = append(got, fr)
		mu.Unlock()
		return nil
	}

	h := hub.New()
	srv, stop := startServer(t, WithHub(h), WithSend(send))
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	buf, err := frame.Marshal(0x03, 0x04, []byte("hi"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("backend received %d frames, want 1", len(got))
	}
	if got[0].Source != 0x03 || got[0].Destination != 0x04 || string(got[0].Payload) != "hi" {
		t.Fatalf("got %+v, want src=0x03 dst=0x04 payload=hi", got[0])
	}
}

func TestBackendSendErrorIsCountedNotFatal(t *testing.T) {
	send := func(frame.Frame) error {
		return buserr.New(buserr.TXQueueFull, "full")
	}
	h := hub.New()
	srv, stop := startServer(t, WithHub(h), WithSend(send))
	defer stop()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	buf, err := frame.Marshal(0x01, 0x02, []byte{0x01})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.totalBackendErrors.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.totalBackendErrors.Load() == 0 {
		t.Fatalf("expected the backend send error to be counted")
	}

	// The connection must stay open despite the backend error.
	buf2, err := frame.Marshal(0x01, 0x02, []byte{0x02})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(buf2); err != nil {
		t.Fatalf("connection closed after a backend error: %v", err)
	}
}

func TestAsyncTxBufferOverflowIsCountedAndDropsFrame(t *testing.T) {
	gate := make(chan struct{})
	send := func(frame.Frame) error {
		<-gate // block the single AsyncTx worker so the buffer backs up
		return nil
	}
	h := hub.New()
	srv, stop := startServer(t, WithHub(h), WithSend(send), WithAsyncTxBuf(4))
	defer func() {
		close(gate)
		stop()
	}()

	conn := dial(t, srv.Addr())
	defer conn.Close()

	for i := 0; i < 64; i++ {
		buf, err := frame.Marshal(0x01, 0x02, []byte{byte(i)})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := conn.Write(buf); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.totalBackendOverflow.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.totalBackendOverflow.Load() == 0 {
		t.Fatalf("expected the async tx buffer to overflow and drop frames")
	}
}

func TestHandshakeRejectsBadGreeting(t *testing.T) {
	srv, stop := startServer(t, WithHub(hub.New()), WithSend(func(frame.Frame) error { return nil }))
	defer stop()

	conn, err := net.DialTimeout("tcp", srv.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "NOT-THE-RIGHT-HELLO\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected the connection to be closed after a bad handshake")
	}
}

func TestSubscribedHandshakeNarrowsBroadcast(t *testing.T) {
	h := hub.New()
	srv, stop := startServer(t, WithHub(h), WithSend(func(frame.Frame) error { return nil }))
	defer stop()

	conn, err := net.DialTimeout("tcp", srv.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "%s %s0x02\n", hello, addrPrefix); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || line != ack+"\n" {
		t.Fatalf("handshake failed: line=%q err=%v", line, err)
	}
	time.Sleep(50 * time.Millisecond) // let acceptOnce register the client

	h.Broadcast(frame.Frame{Source: 0x01, Destination: 0x03, Payload: []byte{0x01}})
	h.Broadcast(frame.Frame{Source: 0x01, Destination: 0x02, Payload: []byte{0x02}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	fr, err := (Codec{}).Decode(conn)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fr.Destination != 0x02 || len(fr.Payload) != 1 || fr.Payload[0] != 0x02 {
		t.Fatalf("got %+v, want only the frame addressed to 0x02", fr)
	}
}

func TestMaxClientsRejectsExtraConnection(t *testing.T) {
	srv, stop := startServer(t, WithHub(hub.New()), WithSend(func(frame.Frame) error { return nil }), WithMaxClients(1))
	defer stop()

	first := dial(t, srv.Addr())
	defer first.Close()
	time.Sleep(50 * time.Millisecond)

	second := dial(t, srv.Addr())
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(1 * time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected the second connection to be closed for exceeding max clients")
	}
}
