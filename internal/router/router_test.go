// ABOUTME: Tests for the message router
// ABOUTME: Verifies session idempotency, fan-out, delivery ordering, and disconnect cleanup

package router

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirechat/wirechat/internal/client"
	"github.com/wirechat/wirechat/internal/enrich"
	"github.com/wirechat/wirechat/internal/store"
)

// recordingTransport captures frames written to a connection
type recordingTransport struct {
	mu     sync.Mutex
	frames []client.Envelope
}

func (rt *recordingTransport) Write(ctx context.Context, data []byte) error {
	var env client.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.frames = append(rt.frames, env)
	rt.mu.Unlock()
	return nil
}

func (rt *recordingTransport) Close() error { return nil }

func (rt *recordingTransport) events() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	names := make([]string, len(rt.frames))
	for i, f := range rt.frames {
		names[i] = f.Event
	}
	return names
}

func (rt *recordingTransport) waitEvents(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if names := rt.events(); len(names) >= n {
			return names
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %v", n, rt.events())
	return nil
}

type fixture struct {
	router   *Router
	store    *store.SQLiteStore
	registry *client.Registry
	rooms    *client.Rooms
	alice    *store.User
	bob      *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := client.NewRegistry(nil)
	rooms := client.NewRooms(nil)
	coordinator := enrich.NewCoordinator(nil, enrich.Options{
		Timeout:        time.Second,
		RetryBaseDelay: time.Millisecond,
	})

	f := &fixture{
		router:   New(st, registry, rooms, coordinator, 50, nil),
		store:    st,
		registry: registry,
		rooms:    rooms,
	}
	f.alice = f.createUser(t, "alice", "alice@example.com")
	f.bob = f.createUser(t, "bob", "bob@example.com")
	return f
}

func (f *fixture) createUser(t *testing.T, username, email string) *store.User {
	t.Helper()
	user := &store.User{
		ID:        username + "-id",
		Username:  username,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	return user
}

// connect registers a live connection for the user and returns its transport
func (f *fixture) connect(t *testing.T, userID string) (*client.Conn, *recordingTransport) {
	t.Helper()
	transport := &recordingTransport{}
	conn := client.NewConn(uuid.New().String(), userID, transport)
	t.Cleanup(conn.Close)
	f.registry.Register(conn)
	return conn, transport
}

func TestCreateSession_SamePairSameSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	// Reversed argument order resolves to the same session
	second, created, err := f.router.CreateSession(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateSession_ConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 8
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
			require.NoError(t, err)
			ids <- session.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "concurrent callers got different sessions")
}

func TestCreateSession_WithSelf(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.router.CreateSession(context.Background(), f.alice.ID, f.alice.ID)
	assert.Error(t, err)
}

func TestCreateSession_UnknownParticipant(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.router.CreateSession(context.Background(), f.alice.ID, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSession_CallerAutoJoined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	// The creator can send right away without an explicit join_room;
	// the peer is not joined on their behalf.
	assert.True(t, f.rooms.Contains(session.ID, f.alice.ID))
	assert.False(t, f.rooms.Contains(session.ID, f.bob.ID))

	_, err = f.router.SendMessage(ctx, &SendRequest{
		ChatID:   session.ID,
		SenderID: f.alice.ID,
		Body:     "opening line",
	})
	require.NoError(t, err)

	// Resolving the same session joins the new caller too.
	_, _, err = f.router.CreateSession(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, f.rooms.Contains(session.ID, f.bob.ID))
}

func TestCreateSession_SeedsMessageWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		msg := &store.Message{
			ID:         fmt.Sprintf("seed-%d", i),
			ChatID:     session.ID,
			SenderID:   f.alice.ID,
			ReceiverID: f.bob.ID,
			Body:       fmt.Sprintf("message number %d with a little bit of extra padding text", i),
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, f.store.SaveMessage(ctx, msg))
	}

	// A fresh router sees the stored history as soon as the chat is
	// opened, with no fetch_messages round trip.
	f2 := &fixture{
		router: New(f.store, client.NewRegistry(nil), client.NewRooms(nil),
			enrich.NewCoordinator(nil, enrich.Options{
				Timeout:        time.Second,
				RetryBaseDelay: time.Millisecond,
			}), 50, nil),
	}
	_, _, err = f2.router.CreateSession(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	assert.NotEqual(t, enrich.SummaryTooShort, f2.router.Summarize(ctx, session.ID))
}

func TestJoinRoom_NonParticipantRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := f.createUser(t, "carol", "carol@example.com")

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	err = f.router.JoinRoom(ctx, carol.ID, session.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.False(t, f.rooms.Contains(session.ID, carol.ID))
}

func TestSendMessage_FanOutWithEnrichmentFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, aliceTransport := f.connect(t, f.alice.ID)
	_, bobTransport := f.connect(t, f.bob.ID)

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.NoError(t, f.router.JoinRoom(ctx, f.alice.ID, session.ID))
	require.NoError(t, f.router.JoinRoom(ctx, f.bob.ID, session.ID))

	delivered, err := f.router.SendMessage(ctx, &SendRequest{
		ChatID:   session.ID,
		SenderID: f.alice.ID,
		Body:     "this is great news",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", delivered.SenderEmail)

	// Both members receive the message and then its enrichment, in
	// that order on each connection.
	for name, transport := range map[string]*recordingTransport{
		"alice": aliceTransport,
		"bob":   bobTransport,
	} {
		events := transport.waitEvents(t, 2)
		assert.Equal(t, EventMessageDelivered, events[0], "%s: first event", name)
		assert.Equal(t, EventMessageEnriched, events[1], "%s: second event", name)
	}

	// Enrichment is persisted on the message
	require.Eventually(t, func() bool {
		messages, err := f.store.ListMessages(ctx, session.ID)
		if err != nil || len(messages) != 1 {
			return false
		}
		return messages[0].Enrichment != nil
	}, 3*time.Second, 10*time.Millisecond)

	messages, err := f.store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "positive", messages[0].Enrichment.Sentiment)
}

func TestSendMessage_OfflineMemberSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, aliceTransport := f.connect(t, f.alice.ID)
	// bob joined earlier but his connection is gone

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.NoError(t, f.router.JoinRoom(ctx, f.alice.ID, session.ID))
	require.NoError(t, f.router.JoinRoom(ctx, f.bob.ID, session.ID))

	_, err = f.router.SendMessage(ctx, &SendRequest{
		ChatID:   session.ID,
		SenderID: f.alice.ID,
		Body:     "anyone there?",
	})
	require.NoError(t, err)

	// Delivery to alice succeeds; the message is persisted for bob to
	// fetch later.
	events := aliceTransport.waitEvents(t, 1)
	assert.Equal(t, EventMessageDelivered, events[0])

	messages, err := f.store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestSendMessage_NotJoined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Alice created the session, so only she is auto-joined; bob must
	// join before he can send.
	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.router.SendMessage(ctx, &SendRequest{
		ChatID:   session.ID,
		SenderID: f.bob.ID,
		Body:     "hello",
	})
	assert.ErrorIs(t, err, ErrNotJoined)

	// Nothing persisted
	messages, err := f.store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.NoError(t, f.router.JoinRoom(ctx, f.alice.ID, session.ID))

	_, err = f.router.SendMessage(ctx, &SendRequest{
		ChatID:   session.ID,
		SenderID: f.alice.ID,
	})
	assert.Error(t, err)
}

func TestFetchHistory_ReseedsEnrichmentWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	// Simulate pre-restart history: messages exist in the store but
	// not in the in-memory window.
	for i := 0; i < 3; i++ {
		msg := &store.Message{
			ID:         fmt.Sprintf("msg-%d", i),
			ChatID:     session.ID,
			SenderID:   f.alice.ID,
			ReceiverID: f.bob.ID,
			Body:       fmt.Sprintf("message number %d with a little bit of extra padding text", i),
			CreatedAt:  time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, f.store.SaveMessage(ctx, msg))
	}

	assert.Equal(t, enrich.SummaryTooShort, f.router.Summarize(ctx, session.ID))

	messages, err := f.router.FetchHistory(ctx, f.alice.ID, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 3)

	summary := f.router.Summarize(ctx, session.ID)
	assert.NotEqual(t, enrich.SummaryTooShort, summary)

	// Messages fetched without enrichment are backfilled asynchronously.
	require.Eventually(t, func() bool {
		refreshed, err := f.store.ListMessages(ctx, session.ID)
		if err != nil {
			return false
		}
		for _, m := range refreshed {
			if m.Enrichment == nil {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFetchHistory_NonParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := f.createUser(t, "carol", "carol@example.com")

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.router.FetchHistory(ctx, carol.ID, session.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestAddContact_NotifiesOnlinePeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, bobTransport := f.connect(t, f.bob.ID)

	require.NoError(t, f.router.AddContact(ctx, f.alice.ID, f.bob.ID))

	events := bobTransport.waitEvents(t, 1)
	assert.Equal(t, EventContactAdded, events[0])

	// Re-adding surfaces the duplicate
	err := f.router.AddContact(ctx, f.alice.ID, f.bob.ID)
	assert.ErrorIs(t, err, store.ErrDuplicateContact)
}

func TestRemoveContact_NotifiesOnlinePeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.AddContact(ctx, f.alice.ID, f.bob.ID))

	_, bobTransport := f.connect(t, f.bob.ID)
	require.NoError(t, f.router.RemoveContact(ctx, f.alice.ID, f.bob.ID))

	events := bobTransport.waitEvents(t, 1)
	assert.Equal(t, EventContactRemoved, events[0])
}

func TestDisconnect_PurgesPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, _ := f.connect(t, f.alice.ID)

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.NoError(t, f.router.JoinRoom(ctx, f.alice.ID, session.ID))

	f.router.Disconnect(conn)

	_, online := f.registry.Resolve(f.alice.ID)
	assert.False(t, online)
	assert.False(t, f.rooms.Contains(session.ID, f.alice.ID))

	select {
	case <-conn.Done():
	default:
		t.Error("connection not closed on disconnect")
	}
}

func TestDisconnect_StaleHandleKeepsSuccessorRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.connect(t, f.alice.ID)
	second, _ := f.connect(t, f.alice.ID) // supersedes first

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	require.NoError(t, f.router.JoinRoom(ctx, f.alice.ID, session.ID))

	// Tearing down the superseded handle must not purge the room
	// memberships the live connection holds.
	f.router.Disconnect(first)

	assert.True(t, f.rooms.Contains(session.ID, f.alice.ID))
	got, online := f.registry.Resolve(f.alice.ID)
	require.True(t, online)
	assert.Same(t, second, got)
}

func TestSendMessage_AttachmentOnlySkipsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, _, err := f.router.CreateSession(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.router.SendMessage(ctx, &SendRequest{
		ChatID:   session.ID,
		SenderID: f.alice.ID,
		Attachment: &store.Attachment{
			FileName: "photo.png",
			FileType: "image/png",
			FileRef:  "blobs/photo.png",
		},
	})
	require.NoError(t, err)

	// An attachment-only message carries no text, so the reply window
	// stays empty and suggestions are conversation openers.
	replies := f.router.SmartReplies(ctx, session.ID)
	assert.Contains(t, replies, "Hello!")
}

func TestSmartReplies_AlwaysAnswers(t *testing.T) {
	f := newFixture(t)
	replies := f.router.SmartReplies(context.Background(), "unknown-chat")
	assert.NotEmpty(t, replies)
}

func TestTranslate_FallbackReturnsOriginal(t *testing.T) {
	f := newFixture(t)
	result := f.router.Translate(context.Background(), "hello world", "es")
	assert.Equal(t, "hello world", result)
}

func TestEnhance_Fallback(t *testing.T) {
	f := newFixture(t)
	result := f.router.Enhance(context.Background(), "i will be there soon")
	assert.Equal(t, "I will be there soon.", result)
}
