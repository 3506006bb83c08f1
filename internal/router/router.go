// Package router is the routing core: it owns the lifecycle of connect,
// disconnect, broadcast and whisper events, decides which live connections
// receive which payload, and keeps persistence strictly isolated from the
// delivery path.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rutkowski-tomasz/emoji-gram/internal/auth"
	"github.com/rutkowski-tomasz/emoji-gram/internal/chat"
	"github.com/rutkowski-tomasz/emoji-gram/internal/presence"
)

// Store is the durable append-only message log.
type Store interface {
	Append(ctx context.Context, m *chat.Message) error
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]chat.Message, error)
}

// Relay mirrors accepted messages to other nodes. Failures are logged and
// swallowed; the local fanout never depends on the relay.
type Relay interface {
	Publish(ctx context.Context, m *chat.Message) error
}

// HistoryPageSize caps a history query; newest first.
const HistoryPageSize = 50

const (
	errContentRejected = "message must contain only emojis and whitespace"
	errUserNotFound    = "user not found"
)

// Router orchestrates presence and fanout. All methods are safe for
// unbounded concurrent use; the directory is the only shared mutable state.
type Router struct {
	directory *presence.Directory
	store     Store
	relay     Relay
	log       *slog.Logger
}

func New(directory *presence.Directory, store Store, relay Relay, log *slog.Logger) *Router {
	if relay == nil {
		relay = nopRelay{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{directory: directory, store: store, relay: relay, log: log}
}

type nopRelay struct{}

func (nopRelay) Publish(context.Context, *chat.Message) error { return nil }

// OnConnect registers a freshly authenticated connection and announces it to
// the whole room, the new connection included.
func (r *Router) OnConnect(ctx context.Context, id auth.Identity, conn chat.Connection) {
	r.directory.Register(id.UserID, id.Username, conn)
	r.log.Info("user connected", "user", id.Username, "userId", id.UserID)

	m := chat.NewConnected(id.UserID, id.Username)
	r.commit(ctx, m, func() {
		r.deliverToAll(m)
	})
}

// OnDisconnect unregisters the connection and announces the departure. The
// transport may invoke it for graceful and abrupt closes alike; repeated
// unregistration of the same handle leaves the directory consistent.
func (r *Router) OnDisconnect(ctx context.Context, id auth.Identity, conn chat.Connection) {
	r.directory.Unregister(id.UserID, conn)
	r.log.Info("user disconnected", "user", id.Username, "userId", id.UserID)

	m := chat.NewDisconnected(id.UserID, id.Username)
	r.commit(ctx, m, func() {
		r.deliverToAll(m)
	})
}

// SendBroadcast validates the content and fans the message out to every live
// connection across all identities, the sender's own connections included.
// Rejected content produces a caller-only error and no other effect.
func (r *Router) SendBroadcast(ctx context.Context, id auth.Identity, conn chat.Connection, text string) {
	if !chat.IsAcceptable(text) {
		conn.DeliverError(errContentRejected)
		return
	}
	r.log.Info("broadcast accepted", "user", id.Username)

	m := chat.NewBroadcast(id.UserID, id.Username, text)
	r.commit(ctx, m, func() {
		r.deliverToAll(m)
	})
}

// SendWhisper validates the content, resolves the target display name, and
// delivers one message to the union of the receiver's and the sender's live
// connections. Connections belonging to neither side never see a whisper.
func (r *Router) SendWhisper(ctx context.Context, id auth.Identity, conn chat.Connection, targetName, text string) {
	if !chat.IsAcceptable(text) {
		conn.DeliverError(errContentRejected)
		return
	}

	targetID, ok := r.directory.Resolve(targetName)
	if !ok {
		conn.DeliverError(errUserNotFound)
		return
	}
	r.log.Info("whisper accepted", "from", id.Username, "to", targetName)

	m := chat.NewWhisper(id.UserID, id.Username, targetID, targetName, text)
	r.commit(ctx, m, func() {
		// The receiver may have disconnected since resolution; an empty
		// target set is fine, the sender still gets its own copy.
		targets := make(map[chat.Connection]struct{})
		for _, c := range r.directory.ConnectionsFor(targetID) {
			targets[c] = struct{}{}
		}
		for _, c := range r.directory.ConnectionsFor(id.UserID) {
			targets[c] = struct{}{}
		}
		for c := range targets {
			c.Deliver(m)
		}
	})
}

// History returns the newest messages visible to the identity, newest first.
func (r *Router) History(ctx context.Context, id auth.Identity) ([]chat.Message, error) {
	return r.store.Recent(ctx, id.UserID, HistoryPageSize)
}

// Online lists currently connected users.
func (r *Router) Online() []presence.User {
	return r.directory.Online()
}

// commit runs the two independent effects of an accepted message: the
// durable append and the delivery fanout. They proceed concurrently; a
// persistence failure is logged and never suppresses delivery. The relay
// branch is best effort on top.
func (r *Router) commit(ctx context.Context, m *chat.Message, deliver func()) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := r.store.Append(ctx, m); err != nil {
			r.log.Error("persistence failed, delivery continues", "messageId", m.ID, "type", m.Type, "error", err)
		}
	}()

	go func() {
		defer wg.Done()
		deliver()
	}()

	go func() {
		defer wg.Done()
		if err := r.relay.Publish(ctx, m); err != nil {
			r.log.Error("relay publish failed", "messageId", m.ID, "type", m.Type, "error", err)
		}
	}()

	wg.Wait()
}

func (r *Router) deliverToAll(m *chat.Message) {
	for _, c := range r.directory.Connections() {
		c.Deliver(m)
	}
}
