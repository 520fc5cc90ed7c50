// Package server exposes HTTP handlers, including WebSocket upgrades, the
// conversation history endpoint, and the health check.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"pairtalk/internal/conversation"
	"pairtalk/internal/protocol"
)

// Handler bundles the HTTP surface with the objects it depends on. Nothing
// here is process-global; cmd/server owns the wiring.
type Handler struct {
	hub         *Hub
	router      *Router
	broadcaster *Broadcaster
	cfg         Config
	log         *slog.Logger
	upgrader    websocket.Upgrader
}

func NewHandler(hub *Hub, router *Router, broadcaster *Broadcaster, cfg Config, log *slog.Logger) *Handler {
	policy := newOriginPolicy(cfg.AllowedOrigins, log)
	return &Handler{
		hub:         hub,
		router:      router,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
	}
}

// WebSocket upgrades the request and registers the connection with the hub,
// which launches its read/write pumps.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, h.router, h.cfg, h.log, r.RemoteAddr)
	h.hub.Register(client)
}

// History serves GET /history?userId=&recipientId=. A pair that has never
// exchanged a message yields an empty list, not an error.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, err1 := strconv.Atoi(r.URL.Query().Get("userId"))
	recipientID, err2 := strconv.Atoi(r.URL.Query().Get("recipientId"))
	if err1 != nil || err2 != nil {
		http.Error(w, "userId and recipientId must be integers", http.StatusBadRequest)
		return
	}

	resp := protocol.HistoryResponse{Messages: h.broadcaster.History(userID, recipientID)}
	if resp.Messages == nil {
		resp.Messages = []conversation.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn("error writing history response", "error", err)
	}
}

// Health provides a simple liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
