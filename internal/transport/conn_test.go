package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/log"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

type peer struct {
	url      string
	accepted atomic.Int32
	received chan proto.Envelope
	exited   chan int32
}

// startPeer runs a WebSocket server. greet runs once per accepted socket,
// receiving its 1-based index; afterwards every inbound envelope is forwarded
// to received until the socket dies.
func startPeer(t *testing.T, greet func(ctx context.Context, conn *websocket.Conn, n int32) bool) *peer {
	t.Helper()

	p := &peer{
		received: make(chan proto.Envelope, 16),
		exited:   make(chan int32, 16),
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := p.accepted.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { p.exited <- n }()
		defer conn.CloseNow()

		ctx := r.Context()
		if greet != nil && !greet(ctx, conn, n) {
			return
		}
		for {
			var env proto.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return
			}
			p.received <- env
		}
	}))
	t.Cleanup(ts.Close)

	p.url = strings.Replace(ts.URL, "http", "ws", 1)
	return p
}

func newTestConnection(t *testing.T, url string) (*Connection, *core.Queue) {
	t.Helper()

	q := core.NewQueue()
	c := New(Options{
		URL:                  url,
		HandshakeTimeout:     2 * time.Second,
		WriteTimeout:         2 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       10 * time.Millisecond,
	}, q, log.Nop())
	t.Cleanup(func() { _ = c.Close() })
	return c, q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectionPushesFramesInArrivalOrder(t *testing.T) {
	p := startPeer(t, func(ctx context.Context, conn *websocket.Conn, _ int32) bool {
		_ = wsjson.Write(ctx, conn, proto.Envelope{Type: proto.TypeChat, Data: []byte(`{"id":"m1"}`)})
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		_ = wsjson.Write(ctx, conn, proto.Envelope{Type: proto.TypeRoomState, Data: []byte(`{"roomId":"r1","users":2}`)})
		_ = wsjson.Write(ctx, conn, proto.Envelope{Type: proto.TypeChat, Data: []byte(`{"id":"m2"}`)})
		return true
	})
	c, q := newTestConnection(t, p.url)

	if err := c.Connect(testCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "three queued events", func() bool { return q.Len() == 3 })

	got := q.Snapshot()
	want := []core.EventKind{core.EventChat, core.EventRoomState, core.EventChat}
	for i, ev := range got {
		if ev.Kind != want[i] {
			t.Fatalf("event %d: got kind %v, want %v", i, ev.Kind, want[i])
		}
		if i > 0 && ev.Seq <= got[i-1].Seq {
			t.Fatalf("events out of order: %+v", got)
		}
	}
}

func TestConnectionSendReachesPeer(t *testing.T) {
	p := startPeer(t, nil)
	c, _ := newTestConnection(t, p.url)

	if err := c.Connect(testCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	env, err := proto.NewEnvelope(proto.TypeRoomState, proto.RoomStateData{RoomID: "r1"})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if !c.Send(env) {
		t.Fatalf("send on open connection should be accepted")
	}

	select {
	case got := <-p.received:
		if got.Type != proto.TypeRoomState || string(got.Data) != `{"roomId":"r1"}` {
			t.Fatalf("unexpected envelope: %s %s", got.Type, got.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("peer never received the envelope")
	}
}

func TestConnectionSendDroppedWhenNotOpen(t *testing.T) {
	c, _ := newTestConnection(t, "ws://127.0.0.1:1")

	if c.Send(proto.Envelope{Type: proto.TypeChat}) {
		t.Fatalf("send must be dropped before connect")
	}
	if c.Connected() {
		t.Fatalf("new connection must not report connected")
	}
	if c.Status() != StatusClosed {
		t.Fatalf("expected closed status, got %s", c.Status())
	}
}

func TestConnectionStopsAfterMaxAttempts(t *testing.T) {
	c, _ := newTestConnection(t, "ws://unused")

	var dials atomic.Int32
	c.dial = func(context.Context, string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	var mu sync.Mutex
	var events []StateEvent
	c.OnStateChange(func(ev StateEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := c.Connect(testCtx(t)); !core.IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	waitFor(t, "unreachable status", func() bool { return c.Status() == StatusUnreachable })

	time.Sleep(100 * time.Millisecond)
	if n := dials.Load(); n != 5 {
		t.Fatalf("expected 5 dials before giving up, got %d", n)
	}
	if c.Attempt() != 5 {
		t.Fatalf("expected attempt counter 5, got %d", c.Attempt())
	}

	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if last.New != StatusUnreachable || !errors.Is(last.Err, ErrUnreachable) {
		t.Fatalf("expected terminal unreachable event, got %+v", last)
	}
}

func TestConnectionResetsAttemptsOnOpen(t *testing.T) {
	p := startPeer(t, nil)
	c, _ := newTestConnection(t, p.url)

	var dials atomic.Int32
	c.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		if dials.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return dialWebSocket(ctx, url)
	}

	_ = c.Connect(testCtx(t))
	waitFor(t, "open after retries", c.Connected)

	if c.Attempt() != 0 {
		t.Fatalf("attempt counter should reset on open, got %d", c.Attempt())
	}
	if n := dials.Load(); n != 3 {
		t.Fatalf("expected 3 dials, got %d", n)
	}
}

func TestConnectionNormalCloseDoesNotReconnect(t *testing.T) {
	p := startPeer(t, func(_ context.Context, conn *websocket.Conn, _ int32) bool {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		return false
	})
	c, _ := newTestConnection(t, p.url)

	if err := c.Connect(testCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "closed status", func() bool { return c.Status() == StatusClosed })

	time.Sleep(100 * time.Millisecond)
	if n := p.accepted.Load(); n != 1 {
		t.Fatalf("normal close must not reconnect, accepted %d sockets", n)
	}
}

func TestConnectionReconnectsAfterAbnormalDrop(t *testing.T) {
	p := startPeer(t, func(_ context.Context, conn *websocket.Conn, n int32) bool {
		if n == 1 {
			_ = conn.CloseNow()
			return false
		}
		return true
	})
	c, _ := newTestConnection(t, p.url)

	if err := c.Connect(testCtx(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "second socket open", func() bool {
		return p.accepted.Load() == 2 && c.Connected()
	})
	if c.Attempt() != 0 {
		t.Fatalf("attempt counter should reset after reopening, got %d", c.Attempt())
	}
}

func TestConnectReplacesLiveSocket(t *testing.T) {
	p := startPeer(t, nil)
	c, _ := newTestConnection(t, p.url)

	ctx := testCtx(t)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	select {
	case n := <-p.exited:
		if n != 1 {
			t.Fatalf("expected first socket to be closed, socket %d exited", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("first socket was never closed")
	}
	if !c.Connected() || p.accepted.Load() != 2 {
		t.Fatalf("expected exactly one live replacement socket")
	}
}

func TestCloseCancelsScheduledReconnect(t *testing.T) {
	c, _ := newTestConnection(t, "ws://unused")
	c.opts.ReconnectDelay = 50 * time.Millisecond

	var dials atomic.Int32
	c.dial = func(context.Context, string) (*websocket.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	_ = c.Connect(testCtx(t))
	_ = c.Close()
	time.Sleep(150 * time.Millisecond)

	if n := dials.Load(); n != 1 {
		t.Fatalf("close must cancel the pending reconnect, saw %d dials", n)
	}
	if c.Status() != StatusClosed {
		t.Fatalf("expected closed, got %s", c.Status())
	}
}
