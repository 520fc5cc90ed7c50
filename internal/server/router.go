package server

import (
	"encoding/json"
	"log/slog"

	"pairtalk/internal/conversation"
	"pairtalk/internal/protocol"
)

// Router triages inbound events from a connection onto the hub, the message
// broadcaster, and the typing coordinator. Malformed or invalid events are
// logged and dropped; they never terminate the connection's event loop and
// are never broadcast.
type Router struct {
	hub         *Hub
	broadcaster *Broadcaster
	typing      *TypingCoordinator
	log         *slog.Logger
}

func NewRouter(hub *Hub, broadcaster *Broadcaster, typing *TypingCoordinator, log *slog.Logger) *Router {
	return &Router{hub: hub, broadcaster: broadcaster, typing: typing, log: log}
}

// HandleEvent dispatches one raw inbound frame.
func (r *Router) HandleEvent(c *Client, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.log.Warn("invalid event envelope", "addr", c.addr, "error", err)
		return
	}

	switch env.Event {
	case protocol.EventIdentify:
		var p protocol.Identify
		if !decode(r, c, env, &p) {
			return
		}
		c.setUser(p.UserID)
		r.log.Info("client identified", "addr", c.addr, "userId", p.UserID)

	case protocol.EventJoin:
		var p protocol.RoomRequest
		if !decode(r, c, env, &p) {
			return
		}
		r.hub.JoinRoom(c, conversation.KeyFor(p.UserID, p.RecipientID))

	case protocol.EventLeave:
		var p protocol.RoomRequest
		if !decode(r, c, env, &p) {
			return
		}
		r.hub.LeaveRoom(c, conversation.KeyFor(p.UserID, p.RecipientID))

	case protocol.EventSend:
		var p protocol.SendRequest
		if !decode(r, c, env, &p) {
			return
		}
		if _, err := r.broadcaster.Send(p.SenderID, p.RecipientID, p.Content); err != nil {
			r.log.Warn("rejected send", "addr", c.addr, "error", err)
		}

	case protocol.EventTypingStart:
		var p protocol.TypingStart
		if !decode(r, c, env, &p) {
			return
		}
		r.typing.Start(conversation.KeyFor(p.UserID, p.RecipientID), p.UserID, p.DisplayName, c)

	case protocol.EventTypingStop:
		var p protocol.TypingStop
		if !decode(r, c, env, &p) {
			return
		}
		r.typing.Stop(conversation.KeyFor(p.UserID, p.RecipientID), p.UserID)

	default:
		r.log.Warn("unknown event", "addr", c.addr, "event", env.Event)
	}
}

// Disconnected runs expiry-equivalent cleanup when a connection drops.
func (r *Router) Disconnected(c *Client) {
	if userID, ok := c.User(); ok {
		r.typing.OnDisconnect(userID)
	}
}

func decode[T any](r *Router, c *Client, env protocol.Envelope, out *T) bool {
	if err := protocol.Decode(env, out); err != nil {
		r.log.Warn("rejected event", "addr", c.addr, "error", err)
		return false
	}
	return true
}
