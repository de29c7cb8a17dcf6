// ABOUTME: End-to-end socket tests over a real websocket connection
// ABOUTME: Covers the register handshake, event dispatch, and delivery ordering

package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wclient "github.com/wirechat/wirechat/internal/client"
	"github.com/wirechat/wirechat/internal/enrich"
	"github.com/wirechat/wirechat/internal/router"
	"github.com/wirechat/wirechat/internal/store"
)

type wsFixture struct {
	server *httptest.Server
	store  *store.SQLiteStore
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	registry := wclient.NewRegistry(nil)
	rooms := wclient.NewRooms(nil)
	coordinator := enrich.NewCoordinator(nil, enrich.Options{
		Timeout:        time.Second,
		RetryBaseDelay: time.Millisecond,
	})
	rt := router.New(st, registry, rooms, coordinator, 50, nil)

	handler := newSocketHandler(rt, st, nil, 100, 200, nil)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &wsFixture{server: server, store: st}
}

func (f *wsFixture) createUser(t *testing.T, username, email string) *store.User {
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

// wsClient is a thin test client over a live socket
type wsClient struct {
	conn *websocket.Conn
}

func (f *wsFixture) dial(t *testing.T) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return &wsClient{conn: conn}
}

func (c *wsClient) send(t *testing.T, event string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(map[string]any{"event": event, "data": json.RawMessage(payload)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, websocket.MessageText, frame))
}

func (c *wsClient) recv(t *testing.T) *wclient.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, frame, err := c.conn.Read(ctx)
	require.NoError(t, err)

	var env wclient.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return &env
}

// register performs the handshake and consumes the ack
func (c *wsClient) register(t *testing.T, userID string) {
	t.Helper()
	c.send(t, EventRegisterUser, &RegisterUserData{UserID: userID})
	env := c.recv(t)
	require.Equal(t, EventRegistered, env.Event)
}

func TestSocket_RegisterHandshake(t *testing.T) {
	f := newWSFixture(t)
	alice := f.createUser(t, "alice", "alice@example.com")

	c := f.dial(t)
	c.register(t, alice.ID)
}

func TestSocket_RegisterUnknownUser_Closes(t *testing.T) {
	f := newWSFixture(t)

	c := f.dial(t)
	c.send(t, EventRegisterUser, &RegisterUserData{UserID: "ghost"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := c.conn.Read(ctx)
	assert.Error(t, err, "socket should be closed for unknown user")
}

func TestSocket_FirstEventMustBeRegister(t *testing.T) {
	f := newWSFixture(t)

	c := f.dial(t)
	c.send(t, EventJoinRoom, &RoomData{ChatID: "c1"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := c.conn.Read(ctx)
	assert.Error(t, err, "socket should be closed when the first event is not register_user")
}

func TestSocket_MessageFlow(t *testing.T) {
	f := newWSFixture(t)
	alice := f.createUser(t, "alice", "alice@example.com")
	bob := f.createUser(t, "bob", "bob@example.com")

	aliceConn := f.dial(t)
	aliceConn.register(t, alice.ID)
	bobConn := f.dial(t)
	bobConn.register(t, bob.ID)

	// Alice opens the session
	aliceConn.send(t, EventCreateChatSession, &CreateChatSessionData{PeerID: bob.ID})
	env := aliceConn.recv(t)
	require.Equal(t, EventChatSessionCreated, env.Event)
	var created ChatSessionCreatedData
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.True(t, created.Created)
	chatID := created.ChatID

	// Both join the room
	aliceConn.send(t, EventJoinRoom, &RoomData{ChatID: chatID})
	require.Equal(t, EventRoomJoined, aliceConn.recv(t).Event)
	bobConn.send(t, EventJoinRoom, &RoomData{ChatID: chatID})
	require.Equal(t, EventRoomJoined, bobConn.recv(t).Event)

	// Alice sends; both sides receive the message, then its enrichment
	aliceConn.send(t, EventSendMessage, &SendMessageData{ChatID: chatID, Body: "this is great"})

	for name, conn := range map[string]*wsClient{"alice": aliceConn, "bob": bobConn} {
		delivered := conn.recv(t)
		require.Equal(t, router.EventMessageDelivered, delivered.Event, "%s: first event", name)

		var msg router.DeliveredMessage
		require.NoError(t, json.Unmarshal(delivered.Data, &msg))
		assert.Equal(t, "this is great", msg.Body)
		assert.Equal(t, "alice@example.com", msg.SenderEmail)

		enriched := conn.recv(t)
		require.Equal(t, router.EventMessageEnriched, enriched.Event, "%s: second event", name)

		var e router.EnrichedMessage
		require.NoError(t, json.Unmarshal(enriched.Data, &e))
		assert.Equal(t, msg.MessageID, e.MessageID)
		assert.Equal(t, "positive", e.Sentiment)
	}

	// Bob reuses the same session
	bobConn.send(t, EventCreateChatSession, &CreateChatSessionData{PeerID: alice.ID})
	env = bobConn.recv(t)
	require.Equal(t, EventChatSessionCreated, env.Event)
	var reused ChatSessionCreatedData
	require.NoError(t, json.Unmarshal(env.Data, &reused))
	assert.False(t, reused.Created)
	assert.Equal(t, chatID, reused.ChatID)
}

func TestSocket_InvalidPayload_ErrorEvent(t *testing.T) {
	f := newWSFixture(t)
	alice := f.createUser(t, "alice", "alice@example.com")

	c := f.dial(t)
	c.register(t, alice.ID)

	c.send(t, EventJoinRoom, &RoomData{})
	env := c.recv(t)
	require.Equal(t, EventError, env.Event)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, EventJoinRoom, payload.Event)
}

func TestSocket_UnknownEvent_ErrorEvent(t *testing.T) {
	f := newWSFixture(t)
	alice := f.createUser(t, "alice", "alice@example.com")

	c := f.dial(t)
	c.register(t, alice.ID)

	c.send(t, "do_something", map[string]string{})
	env := c.recv(t)
	assert.Equal(t, EventError, env.Event)
}

func TestSocket_ContactNoticeReachesPeer(t *testing.T) {
	f := newWSFixture(t)
	alice := f.createUser(t, "alice", "alice@example.com")
	bob := f.createUser(t, "bob", "bob@example.com")

	aliceConn := f.dial(t)
	aliceConn.register(t, alice.ID)
	bobConn := f.dial(t)
	bobConn.register(t, bob.ID)

	// Alice announces a contact change; bob's live socket hears it
	aliceConn.send(t, EventContactAddedNotice, &ContactNoticeData{ContactID: bob.ID})

	env := bobConn.recv(t)
	require.Equal(t, router.EventContactAdded, env.Event)
	var contact router.ContactEvent
	require.NoError(t, json.Unmarshal(env.Data, &contact))
	assert.Equal(t, alice.ID, contact.UserID)
	assert.Equal(t, "alice@example.com", contact.Email)

	aliceConn.send(t, EventContactRemovedNotice, &ContactNoticeData{ContactID: bob.ID})
	env = bobConn.recv(t)
	assert.Equal(t, router.EventContactRemoved, env.Event)
}

func TestSocket_EnhanceRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	alice := f.createUser(t, "alice", "alice@example.com")

	c := f.dial(t)
	c.register(t, alice.ID)

	c.send(t, EventEnhanceMessage, &EnhanceMessageData{Text: "i will be late"})
	env := c.recv(t)
	require.Equal(t, EventMessageEnhanced, env.Event)

	var payload struct {
		Original string `json:"original"`
		Enhanced string `json:"enhanced"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "I will be late.", payload.Enhanced)
}
