package server

import (
	"log/slog"
	"sync"
	"time"

	"pairtalk/internal/conversation"
	"pairtalk/internal/protocol"
)

// roomNotifier is the slice of the hub the typing coordinator and the
// message broadcaster need: room-scoped fan-out with an optional exclusion.
type roomNotifier interface {
	BroadcastToRoom(room conversation.Key, payload []byte, exclude *Client)
}

// TypingCoordinator is the authoritative typing state machine. It keeps, per
// room, at most one outstanding expiry timer per user. A start call resets
// the countdown to exactly the configured timeout from that call; expiry is
// the failsafe against a client vanishing without signaling stop.
//
// Start, Stop, expiry, and OnDisconnect can race for the same (room, user)
// pair, so all four serialize on one mutex. Timer state is never persisted;
// after a restart the arena simply rebuilds from fresh start events.
type TypingCoordinator struct {
	mu      sync.Mutex
	rooms   map[conversation.Key]map[int]*typingState
	timeout time.Duration
	hub     roomNotifier
	log     *slog.Logger
}

// typingState is one user's outstanding countdown in one room. gen increments
// on every refresh or clear, so an expiry callback that lost the race with
// either can recognize itself as stale under the mutex.
type typingState struct {
	timer *time.Timer
	gen   uint64
}

func NewTypingCoordinator(hub roomNotifier, timeout time.Duration, log *slog.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		rooms:   make(map[conversation.Key]map[int]*typingState),
		timeout: timeout,
		hub:     hub,
		log:     log,
	}
}

// Start records typing activity for the user in the room, refreshing the
// expiry countdown, and announces it to every other room member. The
// originating connection never receives its own indicator.
func (t *TypingCoordinator) Start(room conversation.Key, userID int, displayName string, origin *Client) {
	t.mu.Lock()
	users, ok := t.rooms[room]
	if !ok {
		users = make(map[int]*typingState)
		t.rooms[room] = users
	}
	st, ok := users[userID]
	if !ok {
		st = &typingState{}
		users[userID] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(t.timeout, func() {
		t.expire(room, userID, gen)
	})
	t.mu.Unlock()

	t.announce(room, protocol.EventTypingStarted,
		protocol.TypingStarted{UserID: userID, DisplayName: displayName}, origin)
}

// Stop clears the user's typing state in the room and broadcasts the stop.
// Stopping an idle user is a valid no-op state-wise; the broadcast still
// goes out so clients converge.
func (t *TypingCoordinator) Stop(room conversation.Key, userID int) {
	t.mu.Lock()
	t.clearLocked(room, userID)
	t.mu.Unlock()

	t.announce(room, protocol.EventTypingStopped, protocol.TypingStopped{UserID: userID}, nil)
}

// OnDisconnect performs expiry-equivalent cleanup for every room where the
// user still has outstanding typing state.
func (t *TypingCoordinator) OnDisconnect(userID int) {
	t.mu.Lock()
	var stale []conversation.Key
	for room, users := range t.rooms {
		if _, ok := users[userID]; ok {
			t.clearLocked(room, userID)
			stale = append(stale, room)
		}
	}
	t.mu.Unlock()

	for _, room := range stale {
		t.announce(room, protocol.EventTypingStopped, protocol.TypingStopped{UserID: userID}, nil)
	}
}

// expire fires the failsafe when the countdown elapses with no refresh. The
// generation check discards a stale callback that lost the race with a
// concurrent refresh or stop.
func (t *TypingCoordinator) expire(room conversation.Key, userID int, gen uint64) {
	t.mu.Lock()
	users, ok := t.rooms[room]
	if !ok {
		t.mu.Unlock()
		return
	}
	st, ok := users[userID]
	if !ok || st.gen != gen {
		t.mu.Unlock()
		return
	}
	t.clearLocked(room, userID)
	t.mu.Unlock()

	t.log.Debug("typing state expired", "room", room, "userId", userID)
	t.announce(room, protocol.EventTypingStopped, protocol.TypingStopped{UserID: userID}, nil)
}

func (t *TypingCoordinator) clearLocked(room conversation.Key, userID int) {
	users, ok := t.rooms[room]
	if !ok {
		return
	}
	if st, ok := users[userID]; ok {
		st.gen++
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(t.rooms, room)
	}
}

func (t *TypingCoordinator) announce(room conversation.Key, event string, payload any, exclude *Client) {
	raw, err := protocol.Marshal(event, payload)
	if err != nil {
		t.log.Error("failed to encode typing event", "event", event, "error", err)
		return
	}
	t.hub.BroadcastToRoom(room, raw, exclude)
}
