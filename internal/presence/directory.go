// Package presence tracks who is online, on which connections, under which
// display name. The directory is the only shared mutable structure in the
// routing core; it is built for unbounded concurrent access from many
// connection goroutines.
package presence

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rutkowski-tomasz/emoji-gram/internal/chat"
)

// User is one online identity, as reported by Online.
type User struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
}

// entry holds the connection set of one identity. Each entry carries its own
// mutex so directory operations only contend per identity, never globally.
type entry struct {
	mu    sync.Mutex
	name  string
	conns map[chat.Connection]struct{}
	// gone marks an entry that has been removed from the identities map;
	// a racing Register must retry rather than resurrect it.
	gone bool
}

// Directory is a bidirectional presence index: identity to live connections,
// and display name to identity. Construct with NewDirectory and inject it;
// multiple instances can coexist in tests.
type Directory struct {
	identities sync.Map // uuid.UUID -> *entry
	names      sync.Map // string -> uuid.UUID
}

func NewDirectory() *Directory {
	return &Directory{}
}

// Register adds conn to the identity's connection set, creating the set if
// absent, and points the display name at the identity. Registering the same
// handle twice is a no-op (set semantics). If another identity already holds
// the name, the mapping is overwritten: last registration wins.
func (d *Directory) Register(id uuid.UUID, name string, conn chat.Connection) {
	for {
		v, _ := d.identities.LoadOrStore(id, &entry{name: name, conns: make(map[chat.Connection]struct{})})
		e := v.(*entry)
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		e.name = name
		e.conns[conn] = struct{}{}
		// Publish the name mapping before releasing the entry so a racing
		// unregister of the last connection always sees it and cleans up.
		d.names.Store(name, id)
		e.mu.Unlock()
		return
	}
}

// Unregister removes conn from the identity's set. When the last connection
// goes, the identity is dropped and its display name mapping is released if
// it still points at this identity. Unknown identities and handles are a
// no-op: disconnect races are expected steady state, not errors.
func (d *Directory) Unregister(id uuid.UUID, conn chat.Connection) {
	v, ok := d.identities.Load(id)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	delete(e.conns, conn)
	if len(e.conns) > 0 || e.gone {
		e.mu.Unlock()
		return
	}
	e.gone = true
	name := e.name
	e.mu.Unlock()

	// Release the name before the entry leaves the map: a re-registering
	// connection of the same identity spins on the gone entry until the
	// Delete below, so its fresh name mapping can only be stored afterwards
	// and cannot be swept away by this CompareAndDelete.
	d.names.CompareAndDelete(name, id)
	d.identities.Delete(id)
}

// ConnectionsFor returns a snapshot of the identity's live connections, or
// nil when the identity is offline. The snapshot may be stale immediately
// after return; presence is eventually consistent by contract.
func (d *Directory) ConnectionsFor(id uuid.UUID) []chat.Connection {
	v, ok := d.identities.Load(id)
	if !ok {
		return nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	conns := make([]chat.Connection, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}

// Resolve maps a display name to the identity currently registered under it.
// A miss is a legitimate outcome (unknown or offline user), not an error.
func (d *Directory) Resolve(name string) (uuid.UUID, bool) {
	v, ok := d.names.Load(name)
	if !ok {
		return uuid.Nil, false
	}
	return v.(uuid.UUID), true
}

// Connections returns a snapshot of every live connection process-wide, the
// fanout set for broadcast delivery.
func (d *Directory) Connections() []chat.Connection {
	var conns []chat.Connection
	d.identities.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		for c := range e.conns {
			conns = append(conns, c)
		}
		e.mu.Unlock()
		return true
	})
	return conns
}

// Online lists the identities that currently hold at least one connection.
func (d *Directory) Online() []User {
	var users []User
	d.identities.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if len(e.conns) > 0 && !e.gone {
			users = append(users, User{UserID: k.(uuid.UUID), Username: e.name})
		}
		e.mu.Unlock()
		return true
	})
	return users
}
