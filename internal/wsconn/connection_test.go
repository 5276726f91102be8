package wsconn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	tickdesk "github.com/tickdesk/tickdesk-go"
	"github.com/tickdesk/tickdesk-go/sched"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades, greets, then echoes every message back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected"}`)); err != nil {
			return
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recvMessage(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestConnection_RoundTrip(t *testing.T) {
	srv := echoServer(t)

	messages := make(chan []byte, 16)
	conn := NewConnection(ConnectionConfig{
		URL:       wsURL(srv),
		OnMessage: func(data []byte) { messages <- data },
	})

	if conn.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", conn.State())
	}
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn.State() != StateOpen {
		t.Fatalf("state after connect = %v, want open", conn.State())
	}
	if err := conn.Connect(context.Background()); !errors.Is(err, tickdesk.ErrAlreadyConnected) {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnected", err)
	}

	if got := recvMessage(t, messages); string(got) != `{"type":"connected"}` {
		t.Fatalf("greeting = %s", got)
	}

	if err := conn.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := recvMessage(t, messages); string(got) != "hello" {
		t.Fatalf("echo = %s", got)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.State() != StateClosed {
		t.Fatalf("state after close = %v, want closed", conn.State())
	}
	if err := conn.Send([]byte("late")); !errors.Is(err, tickdesk.ErrNotConnected) {
		t.Fatalf("Send after close = %v, want ErrNotConnected", err)
	}
}

func TestConnection_BoundedReconnect(t *testing.T) {
	manual := sched.NewManual()

	var states []State
	var errs []error
	conn := NewConnection(ConnectionConfig{
		URL: "ws://127.0.0.1:0/unreachable",
		Config: &Config{
			ConnectTimeout:       time.Second,
			ReconnectDelay:       time.Second,
			MaxReconnectAttempts: 3,
			PingInterval:         time.Second,
		},
		Scheduler: manual,
		OnState:   func(s State) { states = append(states, s) },
		OnError:   func(err error) { errs = append(errs, err) },
	})

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("expected the dial to fail")
	}
	if conn.State() != StateClosed {
		t.Fatalf("state after first failure = %v, want closed", conn.State())
	}

	// Each advance fires one scheduled redial; the third failure exhausts
	// the budget.
	manual.Advance(time.Second)
	if conn.State() != StateClosed {
		t.Fatalf("state after second failure = %v, want closed", conn.State())
	}
	manual.Advance(time.Second)
	if conn.State() != StateFailed {
		t.Fatalf("state after third failure = %v, want failed", conn.State())
	}
	if manual.Pending() != 0 {
		t.Fatalf("no reconnect may be scheduled after exhaustion, %d pending", manual.Pending())
	}

	var sawExhausted bool
	for _, err := range errs {
		if errors.Is(err, tickdesk.ErrReconnectExhausted) {
			sawExhausted = true
		}
	}
	if !sawExhausted {
		t.Fatalf("ErrReconnectExhausted not surfaced, errors: %v", errs)
	}
	if states[len(states)-1] != StateFailed {
		t.Fatalf("last notified state = %v, want failed", states[len(states)-1])
	}
	// The exhausting failure still surfaces its close before the terminal
	// transition.
	if states[len(states)-2] != StateClosed {
		t.Fatalf("state before failed = %v, want closed (states: %v)", states[len(states)-2], states)
	}

	// An explicit Connect from StateFailed starts a fresh attempt cycle.
	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("expected the retry dial to fail too")
	}
	if conn.State() != StateClosed {
		t.Fatalf("state after fresh Connect = %v, want closed (counter reset)", conn.State())
	}
}

func TestConnection_CloseCancelsPendingReconnect(t *testing.T) {
	manual := sched.NewManual()
	conn := NewConnection(ConnectionConfig{
		URL: "ws://127.0.0.1:0/unreachable",
		Config: &Config{
			ConnectTimeout:       time.Second,
			ReconnectDelay:       time.Second,
			MaxReconnectAttempts: 5,
			PingInterval:         time.Second,
		},
		Scheduler: manual,
	})

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("expected the dial to fail")
	}
	if manual.Pending() != 1 {
		t.Fatalf("pending reconnects = %d, want 1", manual.Pending())
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	manual.Advance(time.Minute)
	if conn.State() != StateClosed {
		t.Fatalf("state after close = %v, want closed", conn.State())
	}
}

func TestConnection_ReconnectsAfterServerDrop(t *testing.T) {
	srv := echoServer(t)
	manual := sched.NewManual()

	stateCh := make(chan State, 16)
	conn := NewConnection(ConnectionConfig{
		URL: wsURL(srv),
		Config: &Config{
			ConnectTimeout:       time.Second,
			WriteTimeout:         time.Second,
			PingInterval:         time.Minute,
			PongWait:             time.Minute,
			ReconnectDelay:       time.Second,
			MaxReconnectAttempts: 5,
		},
		Scheduler: manual,
		OnState:   func(s State) { stateCh <- s },
	})

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, stateCh, StateOpen)

	// Kill every server-side connection; the read loop must notice and
	// schedule a reconnect.
	srv.CloseClientConnections()
	waitState(t, stateCh, StateClosed)

	manual.Advance(time.Second)
	waitState(t, stateCh, StateOpen)
	if conn.State() != StateOpen {
		t.Fatalf("state after reconnect = %v, want open", conn.State())
	}

	conn.Close()
}

func waitState(t *testing.T, ch <-chan State, want State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}
