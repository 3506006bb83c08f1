// Package api exposes the HTTP surface: the WebSocket endpoint, history and
// presence queries, and a health probe.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/rutkowski-tomasz/emoji-gram/internal/auth"
	"github.com/rutkowski-tomasz/emoji-gram/internal/chat"
	"github.com/rutkowski-tomasz/emoji-gram/internal/presence"
)

// ChatService is the slice of the router the HTTP surface consumes.
type ChatService interface {
	History(ctx context.Context, id auth.Identity) ([]chat.Message, error)
	Online() []presence.User
	SendBroadcast(ctx context.Context, id auth.Identity, conn chat.Connection, text string)
}

// TokenVerifier validates a raw bearer token. *auth.Verifier satisfies it;
// tests plug in stubs.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Handler wires the HTTP routes.
type Handler struct {
	verifier TokenVerifier
	service  ChatService
	socket   http.Handler
}

func NewHandler(verifier TokenVerifier, service ChatService, socket http.Handler) *Handler {
	return &Handler{verifier: verifier, service: service, socket: socket}
}

// Routes builds the service router.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", h.socket).Methods(http.MethodGet)
	r.Handle("/history", h.requireIdentity(h.handleHistory)).Methods(http.MethodGet)
	r.Handle("/broadcast", h.requireIdentity(h.handleBroadcast)).Methods(http.MethodPost)
	r.Handle("/presence", h.requireIdentity(h.handlePresence)).Methods(http.MethodGet)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	return r
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

// requireIdentity authenticates the request and resolves the caller's
// identity before invoking next.
func (h *Handler) requireIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(r)
		if token == "" {
			http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
			return
		}
		claims, err := h.verifier.Verify(token)
		if err != nil {
			slog.Warn("[API] Token validation failed", "path", r.URL.Path, "error", err)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
		identity, err := auth.ResolveIdentity(claims)
		if err != nil {
			slog.Warn("[API] Identity resolution failed", "path", r.URL.Path, "error", err)
			http.Error(w, "Unauthorized: incomplete identity", http.StatusUnauthorized)
			return
		}
		next(w, r, identity)
	})
}

// handleHistory returns the newest messages visible to the caller, newest
// first. Visibility filtering happens in the store query itself.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	messages, err := h.service.History(r.Context(), id)
	if err != nil {
		slog.Error("[API] History query failed", "user", id.Username, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	writeJSON(w, messages)
}

func (h *Handler) handlePresence(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	users := h.service.Online()
	if users == nil {
		users = []presence.User{}
	}
	writeJSON(w, users)
}

type broadcastRequest struct {
	Message string `json:"message"`
}

// errorAck captures the caller-only rejection a router operation would send
// to a live connection, so a REST caller gets it as an HTTP error instead.
type errorAck struct {
	text string
}

func (a *errorAck) Deliver(*chat.Message) {}

func (a *errorAck) DeliverError(text string) { a.text = text }

// handleBroadcast sends a room-wide message on behalf of the caller without
// a WebSocket session. It routes through the same acceptance path as a
// socket send: validated, persisted, and fanned out to every live
// connection.
func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var payload broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	ack := &errorAck{}
	h.service.SendBroadcast(r.Context(), id, ack, payload.Message)
	if ack.text != "" {
		http.Error(w, ack.text, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}
