package client

import (
	"log/slog"
	"sync"
	"time"
)

// Default typing timings. The outbound throttle keeps rapid keystrokes from
// flooding the server with start events; the inactivity timeout is shorter
// than the server's failsafe so an explicit stop normally lands first.
const (
	DefaultTypingThrottle   = 500 * time.Millisecond
	DefaultTypingInactivity = 2 * time.Second
)

// TypingEmitter is the slice of the registry the notifier emits through.
type TypingEmitter interface {
	TypingStart(userID, recipientID int, displayName string) error
	TypingStop(userID, recipientID int) error
}

// TypingNotifier translates input activity into start/stop typing events for
// the current conversation target. Start emissions are throttled; stop
// emissions never are; a stuck indicator is a worse defect than a chatty
// stop channel.
type TypingNotifier struct {
	emitter     TypingEmitter
	log         *slog.Logger
	throttle    time.Duration
	inactivity  time.Duration
	userID      int
	displayName string

	mu          sync.Mutex
	recipientID int
	hasTarget   bool
	typing      bool
	lastStart   time.Time
	timer       *time.Timer
	gen         uint64
}

// NotifierOption tweaks notifier construction; used to shrink timings in
// tests.
type NotifierOption func(*TypingNotifier)

func WithTypingDurations(throttle, inactivity time.Duration) NotifierOption {
	return func(n *TypingNotifier) {
		n.throttle = throttle
		n.inactivity = inactivity
	}
}

func NewTypingNotifier(emitter TypingEmitter, userID int, displayName string, log *slog.Logger, opts ...NotifierOption) *TypingNotifier {
	n := &TypingNotifier{
		emitter:     emitter,
		log:         log,
		throttle:    DefaultTypingThrottle,
		inactivity:  DefaultTypingInactivity,
		userID:      userID,
		displayName: displayName,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetTarget switches the active conversation target, cancelling the pending
// inactivity timer and resetting throttle bookkeeping. Timing state never
// carries across targets.
func (n *TypingNotifier) SetTarget(recipientID int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelTimerLocked()
	n.recipientID = recipientID
	n.hasTarget = true
	n.typing = false
	n.lastStart = time.Time{}
}

// SetTyping feeds input activity. With true, a start is emitted unless one
// went out within the throttle window, and the inactivity timer is rearmed
// either way. With false, a stop is emitted immediately and the timer is
// cancelled.
func (n *TypingNotifier) SetTyping(isTyping bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.hasTarget {
		return
	}

	if !isTyping {
		n.cancelTimerLocked()
		n.typing = false
		n.emitStopLocked(n.recipientID)
		return
	}

	n.typing = true
	if now := time.Now(); now.Sub(n.lastStart) > n.throttle {
		n.lastStart = now
		if err := n.emitter.TypingStart(n.userID, n.recipientID, n.displayName); err != nil {
			n.log.Debug("typing start emit failed", "error", err)
		}
	}
	n.rearmLocked()
}

// Close tears the notifier down, emitting a final stop if still typing.
func (n *TypingNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelTimerLocked()
	if n.typing && n.hasTarget {
		n.typing = false
		n.emitStopLocked(n.recipientID)
	}
}

// rearmLocked resets the inactivity countdown. The generation counter makes
// a timer that already fired but lost the race with a rearm or target
// switch a no-op.
func (n *TypingNotifier) rearmLocked() {
	n.cancelTimerLocked()
	n.gen++
	gen := n.gen
	recipientID := n.recipientID
	n.timer = time.AfterFunc(n.inactivity, func() {
		n.expire(gen, recipientID)
	})
}

func (n *TypingNotifier) expire(gen uint64, recipientID int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen || !n.typing {
		return
	}
	n.typing = false
	n.timer = nil
	n.emitStopLocked(recipientID)
}

func (n *TypingNotifier) cancelTimerLocked() {
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *TypingNotifier) emitStopLocked(recipientID int) {
	if err := n.emitter.TypingStop(n.userID, recipientID); err != nil {
		n.log.Debug("typing stop emit failed", "error", err)
	}
}
