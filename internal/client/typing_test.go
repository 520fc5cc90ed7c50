package client

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type typingEvent struct {
	kind        string
	recipientID int
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []typingEvent
}

func (f *fakeEmitter) TypingStart(userID, recipientID int, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, typingEvent{kind: "start", recipientID: recipientID})
	return nil
}

func (f *fakeEmitter) TypingStop(userID, recipientID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, typingEvent{kind: "stop", recipientID: recipientID})
	return nil
}

func (f *fakeEmitter) snapshot() []typingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]typingEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeEmitter) count(kind string) int {
	n := 0
	for _, evt := range f.snapshot() {
		if evt.kind == kind {
			n++
		}
	}
	return n
}

const (
	testThrottle   = 40 * time.Millisecond
	testInactivity = 80 * time.Millisecond
)

func newTestNotifier() (*TypingNotifier, *fakeEmitter) {
	emitter := &fakeEmitter{}
	n := NewTypingNotifier(emitter, 1, "alice", slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithTypingDurations(testThrottle, testInactivity))
	return n, emitter
}

func TestNotifier_NoTargetMeansNoEmissions(t *testing.T) {
	n, emitter := newTestNotifier()

	n.SetTyping(true)
	n.SetTyping(false)

	require.Empty(t, emitter.snapshot())
}

func TestNotifier_ThrottleCollapsesRapidActivity(t *testing.T) {
	n, emitter := newTestNotifier()
	n.SetTarget(2)

	for i := 0; i < 5; i++ {
		n.SetTyping(true)
	}

	require.Equal(t, 1, emitter.count("start"))

	// Past the throttle window, activity emits again.
	time.Sleep(testThrottle + 10*time.Millisecond)
	n.SetTyping(true)
	require.Equal(t, 2, emitter.count("start"))
}

func TestNotifier_ExplicitStopIsImmediateAndUnthrottled(t *testing.T) {
	n, emitter := newTestNotifier()
	n.SetTarget(2)

	n.SetTyping(true)
	n.SetTyping(false)
	n.SetTyping(false)

	require.Equal(t, 2, emitter.count("stop"))

	// The cancelled inactivity timer must not add a third.
	time.Sleep(2 * testInactivity)
	require.Equal(t, 2, emitter.count("stop"))
}

func TestNotifier_InactivityEmitsAutoStop(t *testing.T) {
	n, emitter := newTestNotifier()
	n.SetTarget(2)

	n.SetTyping(true)

	require.Eventually(t, func() bool {
		return emitter.count("stop") == 1
	}, time.Second, 5*time.Millisecond)

	// Exactly one.
	time.Sleep(2 * testInactivity)
	require.Equal(t, 1, emitter.count("stop"))
}

func TestNotifier_ActivityResetsInactivityCountdown(t *testing.T) {
	n, emitter := newTestNotifier()
	n.SetTarget(2)

	n.SetTyping(true)
	time.Sleep(testInactivity / 2)
	n.SetTyping(true)

	// Half the countdown after the second rearm: still typing.
	time.Sleep(testInactivity / 2)
	require.Equal(t, 0, emitter.count("stop"))

	require.Eventually(t, func() bool {
		return emitter.count("stop") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifier_SetTargetResetsStateAndThrottle(t *testing.T) {
	n, emitter := newTestNotifier()
	n.SetTarget(2)
	n.SetTyping(true)

	n.SetTarget(3)

	// The old target's pending auto-stop is cancelled.
	time.Sleep(2 * testInactivity)
	require.Equal(t, 0, emitter.count("stop"))

	// Fresh target, fresh throttle window.
	n.SetTyping(true)
	events := emitter.snapshot()
	require.Equal(t, typingEvent{kind: "start", recipientID: 3}, events[len(events)-1])
}

func TestNotifier_CloseEmitsFinalStopOnlyWhenTyping(t *testing.T) {
	n, emitter := newTestNotifier()
	n.SetTarget(2)
	n.SetTyping(true)

	n.Close()
	require.Equal(t, 1, emitter.count("stop"))

	// Closing while idle adds nothing.
	idle, idleEmitter := newTestNotifier()
	idle.SetTarget(2)
	idle.Close()
	require.Empty(t, idleEmitter.snapshot())
}
