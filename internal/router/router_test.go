package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutkowski-tomasz/emoji-gram/internal/auth"
	"github.com/rutkowski-tomasz/emoji-gram/internal/chat"
	"github.com/rutkowski-tomasz/emoji-gram/internal/presence"
)

// fakeConn records deliveries; safe for the concurrent fanout in commit.
type fakeConn struct {
	mu       sync.Mutex
	messages []*chat.Message
	errors   []string
}

func (c *fakeConn) Deliver(m *chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

func (c *fakeConn) DeliverError(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, text)
}

func (c *fakeConn) received() []*chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*chat.Message(nil), c.messages...)
}

func (c *fakeConn) receivedErrors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
}

// fakeStore records appends and can be told to fail.
type fakeStore struct {
	mu       sync.Mutex
	appended []*chat.Message
	fail     error
}

func (s *fakeStore) Append(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.appended = append(s.appended, m)
	return nil
}

func (s *fakeStore) Recent(context.Context, uuid.UUID, int) ([]chat.Message, error) {
	return nil, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

func identity(name string) auth.Identity {
	return auth.Identity{UserID: uuid.New(), Username: name}
}

func newTestRouter(store Store) *Router {
	return New(presence.NewDirectory(), store, nil, nil)
}

func TestConnectAnnouncesToEveryone(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	alice, bob := identity("alice"), identity("bob")
	aliceConn, bobConn := &fakeConn{}, &fakeConn{}

	r.OnConnect(ctx, alice, aliceConn)
	r.OnConnect(ctx, bob, bobConn)

	// Bob's arrival reaches both the room and Bob himself.
	bobMsgs := bobConn.received()
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, chat.TypeConnected, bobMsgs[0].Type)
	assert.Equal(t, "bob", bobMsgs[0].SenderName)

	aliceMsgs := aliceConn.received()
	require.Len(t, aliceMsgs, 2)
	assert.Equal(t, 2, store.count(), "one record per presence event")
}

func TestDisconnectAnnouncesAndUnregisters(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	alice, bob := identity("alice"), identity("bob")
	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	r.OnConnect(ctx, alice, aliceConn)
	r.OnConnect(ctx, bob, bobConn)

	r.OnDisconnect(ctx, bob, bobConn)

	last := aliceConn.received()[len(aliceConn.received())-1]
	assert.Equal(t, chat.TypeDisconnected, last.Type)
	assert.Equal(t, "bob", last.SenderName)

	// Bob is gone from the fanout set: a broadcast no longer reaches him.
	before := len(bobConn.received())
	r.SendBroadcast(ctx, alice, aliceConn, "👍")
	assert.Len(t, bobConn.received(), before)
}

func TestBroadcastRoundTrip(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	alice, bob := identity("Alice"), identity("Bob")
	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	r.OnConnect(ctx, alice, aliceConn)
	r.OnConnect(ctx, bob, bobConn)
	persistedBefore := store.count()

	r.SendBroadcast(ctx, alice, aliceConn, "👍")

	for _, conn := range []*fakeConn{aliceConn, bobConn} {
		msgs := conn.received()
		last := msgs[len(msgs)-1]
		assert.Equal(t, chat.TypeBroadcast, last.Type)
		assert.Equal(t, "👍", last.Content)
		assert.Equal(t, "Alice", last.SenderName)
		assert.NotEqual(t, uuid.Nil, last.ID)
	}
	assert.Equal(t, persistedBefore+1, store.count(), "exactly one record appended")
}

func TestBroadcastRejectsInvalidContent(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	alice, bob := identity("alice"), identity("bob")
	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	r.OnConnect(ctx, alice, aliceConn)
	r.OnConnect(ctx, bob, bobConn)
	persistedBefore := store.count()
	bobBefore := len(bobConn.received())

	r.SendBroadcast(ctx, alice, aliceConn, "plain text")

	require.Len(t, aliceConn.receivedErrors(), 1, "caller-only rejection")
	assert.Empty(t, bobConn.receivedErrors())
	assert.Len(t, bobConn.received(), bobBefore, "no fanout on rejection")
	assert.Equal(t, persistedBefore, store.count(), "no persistence on rejection")
}

func TestWhisperFanout(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	alice, bob, carol := identity("Alice"), identity("Bob"), identity("Carol")
	alice1, alice2 := &fakeConn{}, &fakeConn{}
	bobConn, carolConn := &fakeConn{}, &fakeConn{}

	r.OnConnect(ctx, alice, alice1)
	r.OnConnect(ctx, alice, alice2)
	r.OnConnect(ctx, bob, bobConn)
	r.OnConnect(ctx, carol, carolConn)

	persistedBefore := store.count()
	carolBefore := len(carolConn.received())

	r.SendWhisper(ctx, alice, alice1, "Bob", "😀")

	// Receiver's one connection and both of the sender's connections.
	for _, conn := range []*fakeConn{bobConn, alice1, alice2} {
		msgs := conn.received()
		last := msgs[len(msgs)-1]
		require.Equal(t, chat.TypeWhisper, last.Type)
		assert.Equal(t, "😀", last.Content)
		assert.Equal(t, "Alice", last.SenderName)
		require.NotNil(t, last.ReceiverName)
		assert.Equal(t, "Bob", *last.ReceiverName)
	}

	assert.Len(t, carolConn.received(), carolBefore, "third parties never see a whisper")
	assert.Equal(t, persistedBefore+1, store.count(), "persisted exactly once")
}

func TestWhisperToUnknownName(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	alice := identity("alice")
	aliceConn := &fakeConn{}
	r.OnConnect(ctx, alice, aliceConn)
	persistedBefore := store.count()
	receivedBefore := len(aliceConn.received())

	r.SendWhisper(ctx, alice, aliceConn, "Ghost", "😀")

	require.Equal(t, []string{"user not found"}, aliceConn.receivedErrors())
	assert.Equal(t, persistedBefore, store.count(), "nothing persisted")
	assert.Len(t, aliceConn.received(), receivedBefore, "no message created")
}

func TestWhisperToSelf(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	alice := identity("alice")
	c1, c2 := &fakeConn{}, &fakeConn{}
	r.OnConnect(ctx, alice, c1)
	r.OnConnect(ctx, alice, c2)
	persistedBefore := store.count()

	r.SendWhisper(ctx, alice, c1, "alice", "😀")

	// Sender and receiver sets coincide; each connection gets one copy.
	for _, conn := range []*fakeConn{c1, c2} {
		msgs := conn.received()
		last := msgs[len(msgs)-1]
		assert.Equal(t, chat.TypeWhisper, last.Type)
	}
	assert.Equal(t, persistedBefore+1, store.count())
	assert.Empty(t, c1.receivedErrors(), "self-whisper is not rejected")
}

func TestWhisperReceiverGoneMidDelivery(t *testing.T) {
	store := &fakeStore{}
	directory := presence.NewDirectory()
	r := New(directory, store, nil, nil)
	ctx := context.Background()

	alice, bob := identity("alice"), identity("bob")
	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	r.OnConnect(ctx, alice, aliceConn)
	r.OnConnect(ctx, bob, bobConn)

	// Bob drops out of the directory after his name still resolves; the
	// whisper is persisted and the caller keeps its copy.
	directory.Unregister(bob.UserID, bobConn)
	persistedBefore := store.count()

	r.SendWhisper(ctx, alice, aliceConn, "bob", "😀")

	// Name no longer resolves once the last connection closed, so this is
	// the not-found path.
	require.Equal(t, []string{"user not found"}, aliceConn.receivedErrors())
	assert.Equal(t, persistedBefore, store.count())
}

func TestPersistenceFailureDoesNotSuppressDelivery(t *testing.T) {
	store := &fakeStore{fail: errors.New("disk full")}
	r := newTestRouter(store)
	ctx := context.Background()

	alice, bob := identity("alice"), identity("bob")
	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	r.OnConnect(ctx, alice, aliceConn)
	r.OnConnect(ctx, bob, bobConn)

	r.SendBroadcast(ctx, alice, aliceConn, "👍")

	msgs := bobConn.received()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, chat.TypeBroadcast, last.Type)
	assert.Equal(t, "👍", last.Content)
	assert.Empty(t, aliceConn.receivedErrors(), "persistence failures never reach the caller")
}

// failingRelay proves relay errors stay isolated from delivery.
type failingRelay struct{}

func (failingRelay) Publish(context.Context, *chat.Message) error {
	return errors.New("relay down")
}

func TestRelayFailureDoesNotSuppressDelivery(t *testing.T) {
	store := &fakeStore{}
	r := New(presence.NewDirectory(), store, failingRelay{}, nil)
	ctx := context.Background()

	alice := identity("alice")
	aliceConn := &fakeConn{}
	r.OnConnect(ctx, alice, aliceConn)

	r.SendBroadcast(ctx, alice, aliceConn, "👍")

	msgs := aliceConn.received()
	last := msgs[len(msgs)-1]
	assert.Equal(t, chat.TypeBroadcast, last.Type)
}

func TestConcurrentBroadcasts(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)
	ctx := context.Background()

	const senders = 8
	ids := make([]auth.Identity, senders)
	conns := make([]*fakeConn, senders)
	for i := range ids {
		ids[i] = identity("user")
		conns[i] = &fakeConn{}
		r.OnConnect(ctx, ids[i], conns[i])
	}
	persistedBefore := store.count()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.SendBroadcast(ctx, ids[i], conns[i], "🎉")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, persistedBefore+senders, store.count(), "each broadcast appended exactly once")
	for _, conn := range conns {
		broadcasts := 0
		for _, m := range conn.received() {
			if m.Type == chat.TypeBroadcast {
				broadcasts++
			}
		}
		assert.Equal(t, senders, broadcasts, "every connection sees every broadcast")
	}
}
