// Package client implements the connection-facing half of pairtalk: a single
// shared transport connection with reconnection and idempotent room replay,
// a throttled typing notifier, and the conversation history fetcher.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"pairtalk/internal/conversation"
	"pairtalk/internal/protocol"
)

// State describes the registry's transport connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// ErrNotConnected is returned by emits attempted while the transport is down.
// Room membership intents are exempt: they queue in the joined set and flush
// on the next connection.
var ErrNotConnected = errors.New("not connected")

// Handlers receives server events and connectivity transitions. Nil fields
// are skipped.
type Handlers struct {
	OnMessageCreated   func(conversation.Message)
	OnTypingStarted    func(userID int, displayName string)
	OnTypingStopped    func(userID int)
	OnConnectionChange func(connected bool)
}

// Registry owns at most one live transport connection per process. A dropped
// transport keeps the joined-rooms bookkeeping so reconnection can replay
// it; only an explicit Disconnect clears it along with the identified user.
type Registry struct {
	log        *slog.Logger
	handlers   Handlers
	dialer     *websocket.Dialer
	backoffMin time.Duration
	backoffMax time.Duration

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	url        string
	userID     int
	identified bool
	joined     map[conversation.Key]protocol.RoomRequest
	running    bool
	closing    bool
	done       chan struct{}

	writeMu sync.Mutex
}

// Option tweaks registry construction; used mainly to shrink the reconnect
// backoff in tests.
type Option func(*Registry)

func WithBackoff(min, max time.Duration) Option {
	return func(r *Registry) {
		r.backoffMin = min
		r.backoffMax = max
	}
}

func NewRegistry(handlers Handlers, log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:        log,
		handlers:   handlers,
		dialer:     websocket.DefaultDialer,
		backoffMin: 500 * time.Millisecond,
		backoffMax: 15 * time.Second,
		joined:     make(map[conversation.Key]protocol.RoomRequest),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect brings up the shared connection. A call while a live session is
// already connecting or connected is a no-op on the transport, guarding
// against duplicate concurrent attempts; if the supplied user differs from
// the previously identified one, the connection re-identifies immediately.
// A call while a session is still tearing down after Disconnect hands the
// new parameters to that goroutine, which carries on as the fresh session
// instead of exiting.
func (r *Registry) Connect(url string, userID int) {
	r.mu.Lock()
	if r.running {
		reidentify := !r.identified || r.userID != userID
		r.userID = userID
		r.identified = true
		if r.closing {
			// Supersede the teardown. The session goroutine re-checks closing
			// under this mutex before every exit, so it picks these up.
			r.closing = false
			r.url = url
			r.state = StateConnecting
			r.done = make(chan struct{})
			r.mu.Unlock()
			return
		}
		connected := r.state == StateConnected
		r.mu.Unlock()
		if reidentify && connected {
			if err := r.emit(protocol.EventIdentify, protocol.Identify{UserID: userID}); err != nil {
				r.log.Warn("re-identify failed", "error", err)
			}
		}
		return
	}

	r.running = true
	r.state = StateConnecting
	r.url = url
	r.userID = userID
	r.identified = true
	r.closing = false
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run()
}

// Disconnect tears the connection down and clears the joined-rooms set and
// the identified user. Unlike a transport drop, nothing is replayed after
// an explicit disconnect.
func (r *Registry) Disconnect() {
	r.mu.Lock()
	r.joined = make(map[conversation.Key]protocol.RoomRequest)
	r.identified = false
	r.userID = 0
	if !r.running || r.closing {
		r.mu.Unlock()
		return
	}
	r.closing = true
	conn := r.conn
	done := r.done
	r.mu.Unlock()

	// done is recreated per session, so this close happens at most once.
	close(done)
	if conn != nil {
		_ = conn.Close()
	}
}

// State reports the current connection state.
func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// JoinRoom records membership intent for the pair's room and, when
// connected, emits the join immediately. Already-joined is a no-op. While
// disconnected the intent just sits in the joined set and flushes on the
// next connected transition.
func (r *Registry) JoinRoom(userID, recipientID int) {
	key := conversation.KeyFor(userID, recipientID)

	r.mu.Lock()
	if _, ok := r.joined[key]; ok {
		r.mu.Unlock()
		return
	}
	req := protocol.RoomRequest{UserID: userID, RecipientID: recipientID}
	r.joined[key] = req
	connected := r.state == StateConnected
	r.mu.Unlock()

	if connected {
		if err := r.emit(protocol.EventJoin, req); err != nil {
			r.log.Warn("join emit failed; will replay on reconnect", "room", key, "error", err)
		}
	}
}

// LeaveRoom removes membership intent; not currently joined is a no-op.
func (r *Registry) LeaveRoom(userID, recipientID int) {
	key := conversation.KeyFor(userID, recipientID)

	r.mu.Lock()
	req, ok := r.joined[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.joined, key)
	connected := r.state == StateConnected
	r.mu.Unlock()

	if connected {
		if err := r.emit(protocol.EventLeave, req); err != nil {
			r.log.Warn("leave emit failed", "room", key, "error", err)
		}
	}
}

// SendMessage posts a message into the pair's conversation.
func (r *Registry) SendMessage(senderID, recipientID int, content string) error {
	return r.emit(protocol.EventSend, protocol.SendRequest{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	})
}

// TypingStart and TypingStop satisfy the typing notifier's emitter.

func (r *Registry) TypingStart(userID, recipientID int, displayName string) error {
	return r.emit(protocol.EventTypingStart, protocol.TypingStart{
		UserID:      userID,
		RecipientID: recipientID,
		DisplayName: displayName,
	})
}

func (r *Registry) TypingStop(userID, recipientID int) error {
	return r.emit(protocol.EventTypingStop, protocol.TypingStop{
		UserID:      userID,
		RecipientID: recipientID,
	})
}

func (r *Registry) run() {
	delay := r.backoffMin
	for {
		r.mu.Lock()
		if r.closing {
			r.state = StateDisconnected
			r.running = false
			r.mu.Unlock()
			return
		}
		r.state = StateConnecting
		url := r.url
		done := r.done
		r.mu.Unlock()

		conn, resp, err := r.dialer.Dial(url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			r.log.Warn("dial failed", "url", url, "error", err)
			select {
			case <-done:
				// Loop back; the top-of-loop check decides whether this was
				// a teardown or a Connect that superseded it.
				continue
			case <-time.After(delay):
			}
			if delay *= 2; delay > r.backoffMax {
				delay = r.backoffMax
			}
			continue
		}
		delay = r.backoffMin

		r.onConnected(conn)
		r.readLoop(conn)

		r.mu.Lock()
		r.conn = nil
		closing := r.closing
		if closing {
			r.state = StateDisconnected
			r.running = false
		} else {
			r.state = StateConnecting
		}
		r.mu.Unlock()

		if r.handlers.OnConnectionChange != nil {
			r.handlers.OnConnectionChange(false)
		}
		if closing {
			return
		}
	}
}

// onConnected runs the connected-transition protocol: re-identify with the
// current user, then replay every previously joined room. Each replay is
// idempotent and emitted exactly once per room; a failing replay does not
// abort the rest.
func (r *Registry) onConnected(conn *websocket.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.state = StateConnected
	userID := r.userID
	identified := r.identified
	rooms := lo.Values(r.joined)
	r.mu.Unlock()

	if identified {
		if err := r.emit(protocol.EventIdentify, protocol.Identify{UserID: userID}); err != nil {
			r.log.Warn("identify failed", "error", err)
		}
	}
	for _, req := range rooms {
		if err := r.emit(protocol.EventJoin, req); err != nil {
			r.log.Warn("room replay failed", "room", conversation.KeyFor(req.UserID, req.RecipientID), "error", err)
		}
	}

	if r.handlers.OnConnectionChange != nil {
		r.handlers.OnConnectionChange(true)
	}
}

func (r *Registry) readLoop(conn *websocket.Conn) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Info("connection lost", "error", err)
			}
			_ = conn.Close()
			return
		}
		r.dispatch(env)
	}
}

func (r *Registry) dispatch(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventMessageCreated:
		var msg conversation.Message
		if err := protocol.Decode(env, &msg); err != nil {
			r.log.Warn("dropping malformed event", "event", env.Event, "error", err)
			return
		}
		if r.handlers.OnMessageCreated != nil {
			r.handlers.OnMessageCreated(msg)
		}
	case protocol.EventTypingStarted:
		var p protocol.TypingStarted
		if err := protocol.Decode(env, &p); err != nil {
			r.log.Warn("dropping malformed event", "event", env.Event, "error", err)
			return
		}
		if r.handlers.OnTypingStarted != nil {
			r.handlers.OnTypingStarted(p.UserID, p.DisplayName)
		}
	case protocol.EventTypingStopped:
		var p protocol.TypingStopped
		if err := protocol.Decode(env, &p); err != nil {
			r.log.Warn("dropping malformed event", "event", env.Event, "error", err)
			return
		}
		if r.handlers.OnTypingStopped != nil {
			r.handlers.OnTypingStopped(p.UserID)
		}
	default:
		r.log.Debug("ignoring unknown event", "event", env.Event)
	}
}

func (r *Registry) emit(event string, payload any) error {
	raw, err := protocol.Marshal(event, payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	conn := r.conn
	connected := r.state == StateConnected
	r.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("emit %s: %w", event, ErrNotConnected)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}
