package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/emberwall/emberwall/internal/canvas"
	"github.com/emberwall/emberwall/internal/protocol"
)

func TestBackoff(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 30 * time.Second

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s capped
		{7, 30 * time.Second},
		{100, 30 * time.Second}, // doubling must not overflow past the cap
		{-1, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := Backoff(base, cap, tt.n); got != tt.want {
			t.Errorf("Backoff(%v, %v, %d) = %v, want %v", base, cap, tt.n, got, tt.want)
		}
	}
}

func TestSend_NotConnected(t *testing.T) {
	c := New(DefaultConfig("ws://127.0.0.1:1/ws"), clockwork.NewFakeClock(), nil)

	err := c.Send(protocol.NewDrawingClear())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestConnect_AfterCloseFails(t *testing.T) {
	c := New(DefaultConfig("ws://127.0.0.1:1/ws"), clockwork.NewFakeClock(), nil)
	c.Close()

	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
}

// newWSServer starts a websocket endpoint that hands each accepted
// connection to fn.
func newWSServer(t *testing.T, fn func(conn *websocket.Conn)) (srv *httptest.Server, url string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
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

type messageCollector struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (mc *messageCollector) handle(msg protocol.Message) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.msgs = append(mc.msgs, msg)
}

func (mc *messageCollector) len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.msgs)
}

func (mc *messageCollector) at(i int) protocol.Message {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.msgs[i]
}

func TestConnect_HelloThenSnapshot(t *testing.T) {
	var gotHello struct {
		mu       sync.Mutex
		clientID string
	}
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		// Handshake: expect hello, answer with one snapshot.
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		hello, ok := msg.(*protocol.Hello)
		if !ok {
			t.Errorf("first frame = %T, want *protocol.Hello", msg)
			return
		}
		gotHello.mu.Lock()
		gotHello.clientID = hello.ClientID
		gotHello.mu.Unlock()

		state, _ := protocol.Encode(protocol.NewState(
			[]canvas.Object{{Type: canvas.ObjectTypeMessage, X: 10, Y: 10}},
			nil,
		))
		conn.WriteMessage(websocket.TextMessage, state)

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mc messageCollector
	cfg := DefaultConfig(url)
	cfg.ClientID = "client-42"
	c := New(cfg, clockwork.NewFakeClock(), mc.handle)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("State() = %v, want connected", c.State())
	}

	waitFor(t, func() bool { return mc.len() >= 1 }, "snapshot delivery")

	state, ok := mc.at(0).(*protocol.State)
	if !ok {
		t.Fatalf("first inbound = %T, want *protocol.State", mc.at(0))
	}
	if len(state.Notes) != 1 {
		t.Errorf("snapshot notes = %d, want 1", len(state.Notes))
	}

	gotHello.mu.Lock()
	defer gotHello.mu.Unlock()
	if gotHello.clientID != "client-42" {
		t.Errorf("hello clientId = %q, want client-42", gotHello.clientID)
	}
}

func TestReadPump_DropsMalformedFrames(t *testing.T) {
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage() // hello
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"warp_drive"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"drawing_clear"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var mc messageCollector
	c := New(DefaultConfig(url), clockwork.NewFakeClock(), mc.handle)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitFor(t, func() bool { return mc.len() >= 1 }, "valid frame after malformed ones")
	if kind := mc.at(0).MessageKind(); kind != protocol.KindDrawingClear {
		t.Errorf("delivered kind = %v, want drawing_clear", kind)
	}
	// Bad frames must not kill the connection.
	if c.State() != StateConnected {
		t.Errorf("State() = %v after malformed frames, want connected", c.State())
	}
}

func TestSend_RoundTrip(t *testing.T) {
	received := make(chan protocol.Message, 4)
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := protocol.Decode(data); err == nil {
				received <- msg
			}
		}
	})

	c := New(DefaultConfig(url), clockwork.NewFakeClock(), nil)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	<-received // hello

	if err := c.Send(protocol.NewMove(uuid.New(), 25, 75)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case msg := <-received:
		move, ok := msg.(*protocol.Move)
		if !ok || move.XPct != 25 || move.YPct != 75 {
			t.Errorf("server received %#v, want move (25, 75)", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the move")
	}
}

func TestDialFailure_SchedulesBackoffRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig("ws://127.0.0.1:1/ws") // nothing listens here
	cfg.BackoffBase = time.Second
	cfg.BackoffCap = 8 * time.Second
	c := New(cfg, clock, nil)
	defer c.Close()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() to dead endpoint should fail")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", c.State())
	}
	if got := c.Retries(); got != 1 {
		t.Fatalf("Retries() = %d after first failure, want 1", got)
	}

	// First retry waits base*2. Fire it and the dial fails again, arming
	// the next doubled delay.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	waitFor(t, func() bool { return c.Retries() == 2 }, "second failed dial")

	clock.BlockUntil(1)
	clock.Advance(4 * time.Second)
	waitFor(t, func() bool { return c.Retries() == 3 }, "third failed dial")
}

func TestRetriesResetOnSuccessfulOpen(t *testing.T) {
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := New(DefaultConfig(url), clockwork.NewFakeClock(), nil)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if got := c.Retries(); got != 0 {
		t.Errorf("Retries() = %d after successful open, want 0", got)
	}
}

func TestStateListener(t *testing.T) {
	_, url := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	var seen struct {
		mu     sync.Mutex
		states []State
	}
	c := New(DefaultConfig(url), clockwork.NewFakeClock(), nil)
	c.SetStateListener(func(s State) {
		seen.mu.Lock()
		seen.states = append(seen.states, s)
		seen.mu.Unlock()
	})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Listener callbacks are fired asynchronously, so assert membership
	// rather than ordering.
	has := func(want State) bool {
		seen.mu.Lock()
		defer seen.mu.Unlock()
		for _, s := range seen.states {
			if s == want {
				return true
			}
		}
		return false
	}
	waitFor(t, func() bool { return has(StateConnecting) && has(StateConnected) },
		"connecting and connected notifications")
}

func TestClose_StopsReconnecting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig("ws://127.0.0.1:1/ws")
	c := New(cfg, clock, nil)

	c.Connect(context.Background()) // fails, arms reconnect timer
	retries := c.Retries()
	c.Close()

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := c.Retries(); got != retries {
		t.Errorf("Retries() = %d after Close, want frozen at %d", got, retries)
	}
	if err := c.Send(protocol.NewDrawingClear()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after Close error = %v, want ErrNotConnected", err)
	}
}
