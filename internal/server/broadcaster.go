package server

import (
	"log/slog"
	"strings"

	"pairtalk/internal/conversation"
	"pairtalk/internal/protocol"
)

// Broadcaster owns per-conversation message sequences: it validates and
// appends new messages through the store and fans them out to the
// conversation's room. Messages appended to the same conversation reach room
// members in append order; nothing is promised across conversations.
type Broadcaster struct {
	store *conversation.Store
	hub   roomNotifier
	log   *slog.Logger
}

func NewBroadcaster(store *conversation.Store, hub roomNotifier, log *slog.Logger) *Broadcaster {
	return &Broadcaster{store: store, hub: hub, log: log}
}

// Send validates, appends, and delivers a message to every connection
// currently joined to the conversation's room, the sender's included: the
// room is the single source of truth for order and timestamps. Members not
// joined at delivery time must request history separately.
//
// Encode and enqueue run inside the store's publish callback, still under the
// conversation's lock, so concurrent sends to one conversation reach the hub
// queue in append order.
func (b *Broadcaster) Send(senderID, recipientID int, content string) (conversation.Message, error) {
	if strings.TrimSpace(content) == "" {
		return conversation.Message{}, ErrEmptyContent
	}

	msg := b.store.AppendPublish(senderID, recipientID, content, func(msg conversation.Message) {
		payload, err := protocol.Marshal(protocol.EventMessageCreated, msg)
		if err != nil {
			// The message is already part of the conversation; delivery just
			// falls back to history on the next fetch.
			b.log.Error("failed to encode messageCreated", "id", msg.ID, "error", err)
			return
		}
		b.hub.BroadcastToRoom(msg.Key(), payload, nil)
	})
	return msg, nil
}

// History returns the conversation's messages in append order. A pair that
// has never exchanged a message yields an empty sequence, not an error.
func (b *Broadcaster) History(userID, recipientID int) []conversation.Message {
	return b.store.Get(conversation.KeyFor(userID, recipientID))
}
