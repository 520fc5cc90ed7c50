package conversation

import "time"

// SystemUserID is the reserved sender id for machine-generated notices.
// Messages from this sender never merge with neighbouring messages when the
// client builds display groups.
const SystemUserID = 0

// Message is an immutable chat event. Once appended to a conversation it is
// never modified; display concerns (grouping, formatting) work on copies.
type Message struct {
	ID          string    `json:"id"`
	SenderID    int       `json:"senderId"`
	RecipientID int       `json:"recipientId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Key returns the conversation key for the message's participant pair.
func (m Message) Key() Key {
	return KeyFor(m.SenderID, m.RecipientID)
}
