// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pairtalk/internal/conversation"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client represents one WebSocket connection on the server side. It carries
// the identified user id once the connection sends identify, and the set of
// rooms the connection has joined (guarded by the hub's mutex).
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	router         *Router
	log            *slog.Logger
	addr           string
	closed         bool
	maxMessageSize int64
	limiter        *rateLimiter

	mu         sync.Mutex
	userID     int
	identified bool

	// rooms is owned by the hub and only touched under its mutex.
	rooms map[conversation.Key]bool
}

// NewClient wraps an upgraded connection. The send channel is buffered so a
// briefly slow reader does not stall room fan-out.
func NewClient(conn *websocket.Conn, hub *Hub, router *Router, cfg Config, log *slog.Logger, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		router:         router,
		log:            log,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefillInterval),
		rooms:          make(map[conversation.Key]bool),
	}
}

func (c *Client) setUser(userID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.identified = true
}

// User returns the identified user id, or false if the connection has not
// sent identify yet.
func (c *Client) User() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.identified
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the error by category and reports whether the read
// loop should stop. Every read error ends the loop; the categories only
// control log noise.
func (c *Client) handleReadError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "addr", c.addr, "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", "addr", c.addr, "reason", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Info("client connection closed", "addr", c.addr, "reason", err)
	default:
		c.log.Warn("websocket read error", "addr", c.addr, "error", err)
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.router.Disconnected(c)
		// The hub stops receiving once shutdown starts; the unregister send
		// must not wedge the pump in that case.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", "addr", c.addr, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}

		if !c.limiter.allow() {
			c.log.Warn("rate limit exceeded; discarding event", "addr", c.addr)
			continue
		}

		// A failing event must not take down the connection's processing of
		// subsequent events; the router logs and returns.
		c.router.HandleEvent(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in writePump", "addr", c.addr, "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn("error setting write deadline", "addr", c.addr, "error", err)
				return
			}
			if !ok {
				// Each payload is one self-contained JSON document, so
				// envelopes are never coalesced into a single frame.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.log.Warn("error writing close message", "addr", c.addr, "error", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn("error writing message", "addr", c.addr, "error", err)
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.ctx.Done():
			return
		}
	}
}
