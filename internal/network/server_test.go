package network

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	srv := NewServer("/ws", log.New(io.Discard, "", 0), opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, msgType MessageType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := Encode(Envelope{Type: msgType, Timestamp: time.Now().UTC(), Payload: raw})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestServerHelloWelcomeExchange(t *testing.T) {
	srv, url := newTestServer(t, Options{})
	srv.Register(MessageHello, func(ctx context.Context, c *Client, env Envelope) {
		var hello Hello
		if err := DecodePayload(env, &hello); err != nil {
			t.Errorf("decode hello: %v", err)
			return
		}
		_ = c.Send(MessageWelcome, Welcome{SessionID: c.ID, ServerID: "test", Version: hello.Version, Resolution: 31})
	})

	conn := dial(t, url)
	writeEnvelope(t, conn, MessageHello, Hello{Client: "tester", Version: ProtocolVersion})

	env := readEnvelope(t, conn)
	if env.Type != MessageWelcome {
		t.Fatalf("got %s, want welcome", env.Type)
	}
	var welcome Welcome
	if err := DecodePayload(env, &welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if _, err := uuid.Parse(welcome.SessionID); err != nil {
		t.Fatalf("session id %q is not a uuid: %v", welcome.SessionID, err)
	}
	if welcome.Version != ProtocolVersion || welcome.Resolution != 31 {
		t.Fatalf("welcome = %+v", welcome)
	}
	if env.Seq == 0 {
		t.Fatalf("envelopes should carry a sequence number")
	}
}

func TestServerRejectsClientsThatSkipHello(t *testing.T) {
	_, url := newTestServer(t, Options{})
	conn := dial(t, url)
	writeEnvelope(t, conn, MessageViewpoint, Viewpoint{X: 1, Y: 2})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestServerDispatchesInOrderAndBroadcasts(t *testing.T) {
	srv, url := newTestServer(t, Options{Rate: 1000, Burst: 100})
	var (
		mu     sync.Mutex
		points []Viewpoint
		got    = make(chan struct{}, 8)
	)
	srv.Register(MessageViewpoint, func(ctx context.Context, c *Client, env Envelope) {
		var vp Viewpoint
		if err := DecodePayload(env, &vp); err != nil {
			t.Errorf("decode viewpoint: %v", err)
			return
		}
		mu.Lock()
		points = append(points, vp)
		mu.Unlock()
		got <- struct{}{}
	})

	conn := dial(t, url)
	writeEnvelope(t, conn, MessageHello, Hello{Client: "tester", Version: ProtocolVersion})
	for i := 0; i < 3; i++ {
		writeEnvelope(t, conn, MessageViewpoint, Viewpoint{X: float64(i), Y: -float64(i)})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for viewpoint %d", i)
		}
	}
	mu.Lock()
	for i, vp := range points {
		if vp.X != float64(i) {
			t.Fatalf("viewpoints out of order: %+v", points)
		}
	}
	mu.Unlock()

	if srv.Clients() != 1 {
		t.Fatalf("clients = %d, want 1", srv.Clients())
	}
	delivered, err := srv.Broadcast(MessageFrame, Frame{Number: 7, Centroid: Coord{X: 1, Y: 1}})
	if err != nil || delivered != 1 {
		t.Fatalf("broadcast delivered %d, err %v", delivered, err)
	}
	env := readEnvelope(t, conn)
	var frame Frame
	if env.Type != MessageFrame || DecodePayload(env, &frame) != nil || frame.Number != 7 {
		t.Fatalf("unexpected frame envelope %+v", env)
	}
}

func TestServerRateLimitsViewpoints(t *testing.T) {
	srv, url := newTestServer(t, Options{Rate: 0.001, Burst: 2})
	count := make(chan struct{}, 16)
	srv.Register(MessageViewpoint, func(ctx context.Context, c *Client, env Envelope) {
		count <- struct{}{}
	})
	done := make(chan struct{}, 1)
	srv.Register(MessageKeepAlive, func(ctx context.Context, c *Client, env Envelope) {
		done <- struct{}{}
	})

	conn := dial(t, url)
	writeEnvelope(t, conn, MessageHello, Hello{Version: ProtocolVersion})
	for i := 0; i < 5; i++ {
		writeEnvelope(t, conn, MessageViewpoint, Viewpoint{X: float64(i)})
	}
	// The burst is spent, so this marker is dropped as well; wait on the
	// viewpoint count instead and make sure nothing else trickles in.
	writeEnvelope(t, conn, MessageKeepAlive, KeepAlive{})

	deadline := time.After(500 * time.Millisecond)
	accepted := 0
loop:
	for {
		select {
		case <-count:
			accepted++
		case <-done:
			t.Fatalf("keepalive should have been rate limited")
		case <-deadline:
			break loop
		}
	}
	if accepted != 2 {
		t.Fatalf("accepted %d viewpoints, want burst of 2", accepted)
	}
}

func TestClientSendReportsFullQueue(t *testing.T) {
	srv := NewServer("/ws", log.New(io.Discard, "", 0), Options{SendQueue: 1})
	c := &Client{ID: "c", server: srv, out: make(chan []byte, 1), done: make(chan struct{})}
	if err := c.Send(MessageKeepAlive, KeepAlive{ServerID: "s"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send(MessageKeepAlive, KeepAlive{ServerID: "s"}); err != ErrSendQueueFull {
		t.Fatalf("second send error = %v, want ErrSendQueueFull", err)
	}
	close(c.done)
	if err := c.Send(MessageKeepAlive, nil); err != ErrClientClosed {
		t.Fatalf("send after close = %v, want ErrClientClosed", err)
	}
}

func TestListenServeShutsDownOnCancel(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", "/ws", log.New(io.Discard, "", 0), Options{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	conn := dial(t, "ws://"+srv.Addr().String()+"/ws")
	writeEnvelope(t, conn, MessageHello, Hello{Version: ProtocolVersion})
	deadline := time.Now().Add(2 * time.Second)
	for srv.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("serve returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going away close, got %v", err)
	}
}
