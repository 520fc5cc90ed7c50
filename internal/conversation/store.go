package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns every conversation in the process. It is passed by reference to
// the components that need it and exposes only Get, Append, and Replace, so
// the mutation surface stays narrow. Appends to the same conversation are
// atomic relative to each other; different conversations proceed in parallel.
type Store struct {
	mu            sync.RWMutex
	conversations map[Key]*record
}

type record struct {
	mu       sync.Mutex
	messages []Message
	lastAt   time.Time
}

func NewStore() *Store {
	return &Store{conversations: make(map[Key]*record)}
}

// Append creates the message for the pair, assigns its id and creation
// timestamp, and appends it to the conversation, creating the conversation
// if it has never been written to. Timestamps within one conversation are
// strictly increasing even when the wall clock stalls, so append order and
// timestamp order never disagree.
func (s *Store) Append(senderID, recipientID int, content string) Message {
	return s.AppendPublish(senderID, recipientID, content, nil)
}

// AppendPublish appends like Append and, before the conversation's lock is
// released, hands the stored message to publish. Two concurrent appends to
// one conversation therefore publish in append order. publish must not call
// back into the same conversation.
func (s *Store) AppendPublish(senderID, recipientID int, content string, publish func(Message)) Message {
	rec := s.record(KeyFor(senderID, recipientID))

	rec.mu.Lock()
	defer rec.mu.Unlock()

	at := time.Now().UTC()
	if !at.After(rec.lastAt) {
		at = rec.lastAt.Add(time.Nanosecond)
	}
	rec.lastAt = at

	msg := Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   at,
	}
	rec.messages = append(rec.messages, msg)
	if publish != nil {
		publish(msg)
	}
	return msg
}

// AppendMessage appends an already-constructed message, keyed by its own
// participant pair. Used by clients ingesting server broadcasts, where id
// and timestamp were assigned by the server and must not be rewritten.
func (s *Store) AppendMessage(msg Message) {
	rec := s.record(msg.Key())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.messages = append(rec.messages, msg)
	if msg.CreatedAt.After(rec.lastAt) {
		rec.lastAt = msg.CreatedAt
	}
}

// Get returns a copy of the conversation's message sequence in append order.
// A pair that has never been written to yields an empty slice, not an error.
func (s *Store) Get(key Key) []Message {
	s.mu.RLock()
	rec, ok := s.conversations[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Message, len(rec.messages))
	copy(out, rec.messages)
	return out
}

// Replace swaps the conversation's entire sequence, creating the conversation
// if absent. Used by clients ingesting a fetched history snapshot.
func (s *Store) Replace(key Key, messages []Message) {
	rec := s.record(key)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.messages = make([]Message, len(messages))
	copy(rec.messages, messages)
	if n := len(rec.messages); n > 0 {
		rec.lastAt = rec.messages[n-1].CreatedAt
	}
}

func (s *Store) record(key Key) *record {
	s.mu.RLock()
	rec, ok := s.conversations[key]
	s.mu.RUnlock()
	if ok {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok = s.conversations[key]; !ok {
		rec = &record{}
		s.conversations[key] = rec
	}
	return rec
}
