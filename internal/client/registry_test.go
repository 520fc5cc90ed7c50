package client

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pairtalk/internal/conversation"
	"pairtalk/internal/protocol"
)

// wsRecorder is a websocket endpoint that records every inbound envelope and
// keeps a handle on each accepted connection so tests can kill the transport.
type wsRecorder struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	inbound  chan protocol.Envelope

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSRecorder(t *testing.T) *wsRecorder {
	t.Helper()
	rec := &wsRecorder{t: t, inbound: make(chan protocol.Envelope, 64)}
	rec.srv = httptest.NewServer(http.HandlerFunc(rec.handle))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (rec *wsRecorder) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := rec.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	rec.mu.Lock()
	rec.conns = append(rec.conns, conn)
	rec.mu.Unlock()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			_ = conn.Close()
			return
		}
		rec.inbound <- env
	}
}

func (rec *wsRecorder) url() string {
	return "ws" + strings.TrimPrefix(rec.srv.URL, "http")
}

// dropConnection closes the most recently accepted connection server-side.
func (rec *wsRecorder) dropConnection() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.conns) > 0 {
		_ = rec.conns[len(rec.conns)-1].Close()
	}
}

// sendToClient pushes a server event down the most recent connection.
func (rec *wsRecorder) sendToClient(event string, payload any) {
	rec.t.Helper()
	raw, err := protocol.Marshal(event, payload)
	require.NoError(rec.t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(rec.t, rec.conns)
	require.NoError(rec.t, rec.conns[len(rec.conns)-1].WriteMessage(websocket.TextMessage, raw))
}

func (rec *wsRecorder) next(timeout time.Duration) (protocol.Envelope, bool) {
	select {
	case env := <-rec.inbound:
		return env, true
	case <-time.After(timeout):
		return protocol.Envelope{}, false
	}
}

func (rec *wsRecorder) expect(event string) protocol.Envelope {
	rec.t.Helper()
	env, ok := rec.next(2 * time.Second)
	require.True(rec.t, ok, "expected %s event before the deadline", event)
	require.Equal(rec.t, event, env.Event)
	return env
}

func newTestRegistry(t *testing.T, handlers Handlers) *Registry {
	t.Helper()
	r := NewRegistry(handlers, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	t.Cleanup(r.Disconnect)
	return r
}

func waitForState(t *testing.T, r *Registry, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.State() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_ConnectIdentifies(t *testing.T) {
	rec := newWSRecorder(t)
	r := newTestRegistry(t, Handlers{})

	r.Connect(rec.url(), 42)
	waitForState(t, r, StateConnected)

	env := rec.expect(protocol.EventIdentify)
	var p protocol.Identify
	require.NoError(t, protocol.Decode(env, &p))
	require.Equal(t, 42, p.UserID)
}

func TestRegistry_EmitWhileDisconnectedFails(t *testing.T) {
	r := newTestRegistry(t, Handlers{})

	err := r.SendMessage(1, 2, "hello")
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, r.TypingStart(1, 2, "alice"), ErrNotConnected)
	require.ErrorIs(t, r.TypingStop(1, 2), ErrNotConnected)
}

func TestRegistry_JoinRoomEmitsOncePerRoom(t *testing.T) {
	rec := newWSRecorder(t)
	r := newTestRegistry(t, Handlers{})

	r.Connect(rec.url(), 1)
	waitForState(t, r, StateConnected)
	rec.expect(protocol.EventIdentify)

	r.JoinRoom(1, 2)
	r.JoinRoom(2, 1) // same room, swapped pair
	r.JoinRoom(1, 2)

	rec.expect(protocol.EventJoin)
	if env, ok := rec.next(100 * time.Millisecond); ok {
		t.Fatalf("unexpected extra %s event", env.Event)
	}
}

func TestRegistry_ReconnectReplaysJoinedRooms(t *testing.T) {
	rec := newWSRecorder(t)

	var connMu sync.Mutex
	var transitions []bool
	r := newTestRegistry(t, Handlers{
		OnConnectionChange: func(connected bool) {
			connMu.Lock()
			transitions = append(transitions, connected)
			connMu.Unlock()
		},
	})

	r.Connect(rec.url(), 1)
	waitForState(t, r, StateConnected)
	rec.expect(protocol.EventIdentify)

	r.JoinRoom(1, 2)
	r.JoinRoom(1, 3)
	rec.expect(protocol.EventJoin)
	rec.expect(protocol.EventJoin)

	rec.dropConnection()

	// Reconnection re-identifies, then replays each joined room exactly once.
	// The identify frame itself marks the reconnected transport.
	env := rec.expect(protocol.EventIdentify)
	var p protocol.Identify
	require.NoError(t, protocol.Decode(env, &p))
	require.Equal(t, 1, p.UserID)

	replayed := map[conversation.Key]int{}
	for i := 0; i < 2; i++ {
		env := rec.expect(protocol.EventJoin)
		var req protocol.RoomRequest
		require.NoError(t, protocol.Decode(env, &req))
		replayed[conversation.KeyFor(req.UserID, req.RecipientID)]++
	}
	require.Equal(t, map[conversation.Key]int{
		conversation.KeyFor(1, 2): 1,
		conversation.KeyFor(1, 3): 1,
	}, replayed)
	if env, ok := rec.next(100 * time.Millisecond); ok {
		t.Fatalf("unexpected extra %s event after replay", env.Event)
	}

	connMu.Lock()
	defer connMu.Unlock()
	require.Equal(t, []bool{true, false, true}, transitions)
}

func TestRegistry_DisconnectClearsRoomsAndUser(t *testing.T) {
	rec := newWSRecorder(t)
	r := newTestRegistry(t, Handlers{})

	r.Connect(rec.url(), 1)
	waitForState(t, r, StateConnected)
	rec.expect(protocol.EventIdentify)

	r.JoinRoom(1, 2)
	rec.expect(protocol.EventJoin)

	r.Disconnect()
	waitForState(t, r, StateDisconnected)

	// A fresh connect replays nothing and identifies with the new user only.
	r.Connect(rec.url(), 9)
	waitForState(t, r, StateConnected)

	env := rec.expect(protocol.EventIdentify)
	var p protocol.Identify
	require.NoError(t, protocol.Decode(env, &p))
	require.Equal(t, 9, p.UserID)
	if env, ok := rec.next(100 * time.Millisecond); ok {
		t.Fatalf("unexpected %s event after clean reconnect", env.Event)
	}
}

func TestRegistry_ConnectDuringTeardownStartsFreshSession(t *testing.T) {
	rec := newWSRecorder(t)
	r := newTestRegistry(t, Handlers{})

	// Disconnect immediately followed by Connect races the session
	// goroutine's teardown; the registry must come back up every time.
	for i := 0; i < 10; i++ {
		r.Connect(rec.url(), 1)
		waitForState(t, r, StateConnected)

		r.Disconnect()
		r.Connect(rec.url(), 1)
		waitForState(t, r, StateConnected)

		r.Disconnect()
		waitForState(t, r, StateDisconnected)
	}
}

func TestRegistry_LeaveRoomRemovesReplayIntent(t *testing.T) {
	rec := newWSRecorder(t)
	r := newTestRegistry(t, Handlers{})

	r.Connect(rec.url(), 1)
	waitForState(t, r, StateConnected)
	rec.expect(protocol.EventIdentify)

	r.JoinRoom(1, 2)
	rec.expect(protocol.EventJoin)
	r.LeaveRoom(2, 1) // swapped pair addresses the same room
	rec.expect(protocol.EventLeave)

	rec.dropConnection()

	rec.expect(protocol.EventIdentify)
	if env, ok := rec.next(100 * time.Millisecond); ok {
		t.Fatalf("left room must not be replayed, got %s", env.Event)
	}
}

func TestRegistry_DispatchesServerEvents(t *testing.T) {
	rec := newWSRecorder(t)

	messages := make(chan conversation.Message, 1)
	started := make(chan string, 1)
	stopped := make(chan int, 1)
	r := newTestRegistry(t, Handlers{
		OnMessageCreated: func(msg conversation.Message) { messages <- msg },
		OnTypingStarted:  func(userID int, displayName string) { started <- displayName },
		OnTypingStopped:  func(userID int) { stopped <- userID },
	})

	r.Connect(rec.url(), 1)
	waitForState(t, r, StateConnected)
	rec.expect(protocol.EventIdentify)

	rec.sendToClient(protocol.EventMessageCreated, conversation.Message{
		ID: "m1", SenderID: 2, RecipientID: 1, Content: "hey", CreatedAt: time.Now().UTC(),
	})
	rec.sendToClient(protocol.EventTypingStarted, protocol.TypingStarted{UserID: 2, DisplayName: "bob"})
	rec.sendToClient(protocol.EventTypingStopped, protocol.TypingStopped{UserID: 2})

	select {
	case msg := <-messages:
		require.Equal(t, "hey", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("messageCreated not dispatched")
	}
	require.Equal(t, "bob", <-started)
	require.Equal(t, 2, <-stopped)
}
