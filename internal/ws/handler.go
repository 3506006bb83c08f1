// Package ws adapts WebSocket sessions to the routing core: it upgrades
// authenticated requests, runs the read/write pumps, and translates between
// wire events and router operations.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rutkowski-tomasz/emoji-gram/internal/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend host list is settled
		return true
	},
}

// Handler upgrades HTTP requests to chat sessions.
type Handler struct {
	verifier *auth.Verifier
	router   EventRouter
}

func NewHandler(verifier *auth.Verifier, router EventRouter) *Handler {
	return &Handler{verifier: verifier, router: router}
}

// ServeHTTP authenticates the request, resolves the identity, upgrades the
// connection, and hands the session to the router. A failed resolution
// refuses the connection before it is ever registered.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)
	if token == "" {
		slog.Warn("[WS] No token provided", "from", r.RemoteAddr)
		http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		slog.Warn("[WS] Token validation failed", "from", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	identity, err := auth.ResolveIdentity(claims)
	if err != nil {
		slog.Warn("[WS] Identity resolution failed", "from", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized: incomplete identity", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("[WS] Failed to upgrade connection", "user", identity.Username, "error", err)
		return
	}

	slog.Info("[WS] Connection upgraded", "user", identity.Username, "userId", identity.UserID, "from", r.RemoteAddr)

	client := &Client{
		router:   h.router,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, 256),
	}

	h.router.OnConnect(r.Context(), identity, client)

	go client.WritePump()
	go client.ReadPump()
}
