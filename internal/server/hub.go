// Package server coordinates client registration, room membership, broadcast
// fan-out, and connection cleanup for the pairtalk WebSocket system via the
// Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"pairtalk/internal/conversation"
)

// roomBroadcast is a payload queued for delivery to one room. Exclude, when
// set, names a connection that must not receive the payload (the originator
// of a typing notice never hears its own indicator).
type roomBroadcast struct {
	Room    conversation.Key
	Payload []byte
	Exclude *Client
}

// Hub manages all WebSocket client connections and room membership, and
// fans broadcasts out to room members. Registration and delivery run on the
// hub's own goroutine; membership is guarded by the mutex so join and leave
// can be served directly from request handling.
type Hub struct {
	log        *slog.Logger
	clients    map[*Client]bool
	rooms      map[conversation.Key]map[*Client]bool
	broadcast  chan roomBroadcast
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub ready to manage connections and rooms.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		rooms:      make(map[conversation.Key]map[*Client]bool),
		broadcast:  make(chan roomBroadcast, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and room broadcasting. Call it in its own goroutine; it
// runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("client registered", "addr", client.addr, "clients", clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Register hands a new connection to the hub, which launches its pumps.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// JoinRoom adds the client to the conversation's room. Already-joined is a
// no-op, so replayed joins after a reconnection are harmless.
func (h *Hub) JoinRoom(client *Client, room conversation.Key) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	if members[client] {
		return
	}
	members[client] = true
	client.rooms[room] = true
	h.log.Debug("client joined room", "addr", client.addr, "room", room, "members", len(members))
}

// LeaveRoom removes the client from the conversation's room. Not currently
// joined is a no-op. Empty rooms are dropped from the map.
func (h *Hub) LeaveRoom(client *Client, room conversation.Key) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.leaveRoomLocked(client, room)
}

func (h *Hub) leaveRoomLocked(client *Client, room conversation.Key) {
	members, ok := h.rooms[room]
	if !ok || !members[client] {
		return
	}
	delete(members, client)
	delete(client.rooms, room)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// BroadcastToRoom queues a payload for delivery to every member of the room,
// minus exclude when set. Delivery happens on the hub goroutine, off the
// triggering request path.
func (h *Hub) BroadcastToRoom(room conversation.Key, payload []byte, exclude *Client) {
	select {
	case h.broadcast <- roomBroadcast{Room: room, Payload: payload, Exclude: exclude}:
	case <-h.ctx.Done():
	}
}

// RoomMembers reports the current member count of a room.
func (h *Hub) RoomMembers(room conversation.Key) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) deliver(msg roomBroadcast) {
	members := h.roomSnapshot(msg.Room)

	var failed []*Client
	for _, client := range members {
		if client == msg.Exclude {
			continue
		}
		if !h.safeSend(client, msg.Payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// roomSnapshot returns a thread-safe snapshot of the room's members.
func (h *Hub) roomSnapshot(room conversation.Key) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return lo.Keys(h.rooms[room])
}

func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the send so unregister cannot close the channel
	// out from under us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	for room := range client.rooms {
		h.leaveRoomLocked(client, room)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)
	h.log.Info("client unregistered", "addr", client.addr, "clients", clientCount)
}

// removeFailedClients drops clients whose send buffers are full.
func (h *Hub) removeFailedClients(failed []*Client) {
	for _, client := range failed {
		h.log.Warn("removing client due to full send buffer", "addr", client.addr)
		h.removeClient(client)
	}
}

// shutdownClients closes every active client connection.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection", "addr", client.addr, "error", err)
			}
		}
	}
	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for all client goroutines to finish, or
// until the timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
