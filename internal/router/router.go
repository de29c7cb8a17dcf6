// ABOUTME: Message router: session creation, room-scoped fan-out, and async enrichment dispatch
// ABOUTME: Messages are persisted before delivery; enrichment follows delivery on a detached context

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wirechat/wirechat/internal/client"
	"github.com/wirechat/wirechat/internal/enrich"
	"github.com/wirechat/wirechat/internal/metrics"
	"github.com/wirechat/wirechat/internal/store"
)

// Outbound event names pushed to clients.
const (
	EventMessageDelivered = "message_delivered"
	EventMessageEnriched  = "message_enriched"
	EventContactAdded     = "new_contact_added"
	EventContactRemoved   = "contact_removed"
)

// enrichTimeout bounds the whole enrichment pipeline for one message.
const enrichTimeout = 45 * time.Second

// persistTimeout bounds the detached enrichment write, matching the
// other store writes that outlive their request.
const persistTimeout = 5 * time.Second

// ErrNotParticipant indicates the user is not one of the two
// participants of the chat session.
var ErrNotParticipant = errors.New("user is not a participant of this chat")

// ErrNotJoined indicates the sender has not joined the room they are
// sending to.
var ErrNotJoined = errors.New("user has not joined this room")

// DeliveredMessage is the payload of a message_delivered event.
type DeliveredMessage struct {
	MessageID   string            `json:"message_id"`
	ChatID      string            `json:"chat_id"`
	SenderID    string            `json:"sender_id"`
	SenderEmail string            `json:"sender_email"`
	ReceiverID  string            `json:"receiver_id"`
	Body        string            `json:"body"`
	Attachment  *store.Attachment `json:"attachment,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// EnrichedMessage is the payload of a message_enriched follow-up.
type EnrichedMessage struct {
	MessageID  string  `json:"message_id"`
	ChatID     string  `json:"chat_id"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// ContactEvent is the payload of contact_added and contact_removed
// notifications.
type ContactEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// SendRequest carries one inbound message through the router.
type SendRequest struct {
	ChatID     string
	SenderID   string
	Body       string
	Attachment *store.Attachment
}

// Router owns the messaging flow: it resolves sessions, persists
// messages, fans them out to joined room members, and dispatches
// enrichment after delivery.
type Router struct {
	store    store.Store
	registry *client.Registry
	rooms    *client.Rooms
	enricher *enrich.Coordinator
	cache    *historyCache
	logger   *slog.Logger

	// pairLocks serializes session creation per participant pair so
	// concurrent create_chat_session calls for the same pair don't
	// both reach the insert. The store's unique constraint remains
	// the authority; the lock just avoids burning IDs on conflicts.
	pairMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// New creates a Router. historyWindow is the number of recent message
// bodies kept per chat for enrichment context.
func New(st store.Store, registry *client.Registry, rooms *client.Rooms, enricher *enrich.Coordinator, historyWindow int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     st,
		registry:  registry,
		rooms:     rooms,
		enricher:  enricher,
		cache:     newHistoryCache(historyWindow),
		logger:    logger.With("component", "router"),
		pairLocks: make(map[string]*sync.Mutex),
	}
}

// Register binds a live connection to its user. The replaced
// connection, if any, is returned so the caller can close it.
func (r *Router) Register(conn *client.Conn) *client.Conn {
	return r.registry.Register(conn)
}

// lockPair acquires the creation lock for a normalized pair and
// returns the unlock function.
func (r *Router) lockPair(lo, hi string) func() {
	key := lo + "|" + hi
	r.pairMu.Lock()
	m, ok := r.pairLocks[key]
	if !ok {
		m = &sync.Mutex{}
		r.pairLocks[key] = m
	}
	r.pairMu.Unlock()

	m.Lock()
	return m.Unlock
}

// CreateSession resolves or creates the chat session for a participant
// pair. The same pair always maps to the same session regardless of
// argument order or concurrent callers. The second return value is
// true when a new session was created. The caller (userA) joins the
// session's room as part of opening it; the peer joins on their own
// create or join_room.
func (r *Router) CreateSession(ctx context.Context, userA, userB string) (*store.ChatSession, bool, error) {
	if userA == userB {
		return nil, false, fmt.Errorf("cannot create a chat session with yourself")
	}

	// Both participants must exist before a session binds them.
	for _, id := range []string{userA, userB} {
		if _, err := r.store.GetUser(ctx, id); err != nil {
			return nil, false, fmt.Errorf("resolving participant %s: %w", id, err)
		}
	}

	lo, hi := store.NormalizePair(userA, userB)
	unlock := r.lockPair(lo, hi)
	defer unlock()

	existing, err := r.store.FindSession(ctx, lo, hi)
	if err == nil {
		r.enterSession(ctx, existing.ID, userA)
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up session: %w", err)
	}

	session := &store.ChatSession{
		ID:        uuid.New().String(),
		UserLo:    lo,
		UserHi:    hi,
		CreatedAt: time.Now().UTC(),
	}
	err = r.store.CreateSession(ctx, session)
	if errors.Is(err, store.ErrDuplicateSession) {
		// Lost a race with another gateway instance: the row that won
		// is the session we wanted.
		existing, lookupErr := r.store.FindSession(ctx, lo, hi)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("resolving session after duplicate insert: %w", lookupErr)
		}
		r.enterSession(ctx, existing.ID, userA)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating session: %w", err)
	}

	metrics.SessionsCreated.Inc()
	r.logger.Info("session created", "chat_id", session.ID, "user_lo", lo, "user_hi", hi)
	r.enterSession(ctx, session.ID, userA)
	return session, true, nil
}

// enterSession joins the caller to the session's room and, if the chat
// message window is cold, seeds it from stored history so a freshly
// opened chat has context for replies and summaries.
func (r *Router) enterSession(ctx context.Context, chatID, userID string) {
	r.rooms.Join(chatID, userID)

	if len(r.cache.Recent(chatID)) > 0 {
		return
	}
	messages, err := r.store.ListMessages(ctx, chatID)
	if err != nil {
		r.logger.Warn("seeding message window failed", "chat_id", chatID, "error", err)
		return
	}
	if bodies := nonEmptyBodies(messages); len(bodies) > 0 {
		r.cache.Replace(chatID, bodies)
	}
}

// nonEmptyBodies collects message bodies that carry text, skipping
// attachment-only messages.
func nonEmptyBodies(messages []*store.Message) []string {
	bodies := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Body != "" {
			bodies = append(bodies, m.Body)
		}
	}
	return bodies
}

// JoinRoom adds the user to a chat room after verifying they are one
// of the session's participants.
func (r *Router) JoinRoom(ctx context.Context, userID, chatID string) error {
	session, err := r.store.GetSession(ctx, chatID)
	if err != nil {
		return fmt.Errorf("resolving session: %w", err)
	}
	if !session.HasParticipant(userID) {
		return ErrNotParticipant
	}

	r.rooms.Join(chatID, userID)
	return nil
}

// LeaveRoom removes the user from a chat room.
func (r *Router) LeaveRoom(userID, chatID string) {
	r.rooms.Leave(chatID, userID)
}

// SendMessage persists the message and fans it out to every joined
// room member with a live connection. Persistence comes first: a
// message that cannot be stored is never delivered, and the error goes
// back to the sender alone. Enrichment is dispatched after the fan-out
// completes, so the follow-up can never overtake the delivery on any
// recipient's queue.
func (r *Router) SendMessage(ctx context.Context, req *SendRequest) (*DeliveredMessage, error) {
	if req.Body == "" && req.Attachment == nil {
		return nil, fmt.Errorf("message has no body and no attachment")
	}
	if !r.rooms.Contains(req.ChatID, req.SenderID) {
		return nil, ErrNotJoined
	}

	session, err := r.store.GetSession(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	if !session.HasParticipant(req.SenderID) {
		return nil, ErrNotParticipant
	}

	sender, err := r.store.GetUser(ctx, req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("resolving sender: %w", err)
	}

	receiverID := session.UserLo
	if receiverID == req.SenderID {
		receiverID = session.UserHi
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		ChatID:     req.ChatID,
		SenderID:   req.SenderID,
		ReceiverID: receiverID,
		Body:       req.Body,
		Attachment: req.Attachment,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}
	metrics.MessagesPersisted.Inc()
	if req.Body != "" {
		r.cache.Append(req.ChatID, req.Body)
	}

	payload := &DeliveredMessage{
		MessageID:   msg.ID,
		ChatID:      msg.ChatID,
		SenderID:    msg.SenderID,
		SenderEmail: sender.Email,
		ReceiverID:  msg.ReceiverID,
		Body:        msg.Body,
		Attachment:  msg.Attachment,
		Timestamp:   msg.CreatedAt,
	}

	for _, member := range r.rooms.Members(req.ChatID) {
		conn, ok := r.registry.Resolve(member)
		if !ok {
			// Offline members catch up through fetch_messages.
			continue
		}
		if err := conn.Send(EventMessageDelivered, payload); err != nil {
			r.logger.Warn("delivery failed", "message_id", msg.ID, "user_id", member, "error", err)
			continue
		}
		metrics.MessagesDelivered.Inc()
	}

	go r.enrichMessage(msg)
	return payload, nil
}

// enrichMessage runs the enrichment pipeline for a delivered message on
// a detached context, persists the result, and pushes the follow-up to
// whoever is still in the room.
func (r *Router) enrichMessage(msg *store.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	sentiment := r.enricher.AnalyzeSentiment(ctx, msg.Body)
	language := r.enricher.DetectLanguage(ctx, msg.Body)

	enrichment := store.Enrichment{
		Sentiment:  sentiment.Label,
		Confidence: sentiment.Confidence,
		Language:   language,
	}

	saveCtx, saveCancel := context.WithTimeout(context.Background(), persistTimeout)
	defer saveCancel()
	if err := r.store.UpdateMessageEnrichment(saveCtx, msg.ID, enrichment); err != nil {
		r.logger.Error("failed to persist enrichment", "message_id", msg.ID, "error", err)
	}

	payload := &EnrichedMessage{
		MessageID:  msg.ID,
		ChatID:     msg.ChatID,
		Sentiment:  enrichment.Sentiment,
		Confidence: enrichment.Confidence,
		Language:   enrichment.Language,
	}
	for _, member := range r.rooms.Members(msg.ChatID) {
		if conn, ok := r.registry.Resolve(member); ok {
			if err := conn.Send(EventMessageEnriched, payload); err != nil {
				r.logger.Debug("enrichment push failed", "message_id", msg.ID, "user_id", member, "error", err)
			}
		}
	}
}

// FetchHistory returns the full persisted history of a chat and
// reseeds the enrichment window from it, so a gateway restart doesn't
// leave summaries and replies working from an empty cache.
func (r *Router) FetchHistory(ctx context.Context, userID, chatID string) ([]*store.Message, error) {
	session, err := r.store.GetSession(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	if !session.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	messages, err := r.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	for _, m := range messages {
		// Backfill messages whose enrichment never landed, pushing the
		// follow-up to whoever is in the room once it completes.
		if m.Enrichment == nil && m.Body != "" {
			go r.enrichMessage(m)
		}
	}
	r.cache.Replace(chatID, nonEmptyBodies(messages))

	return messages, nil
}

// SmartReplies suggests short replies based on the chat's recent
// messages. Always succeeds; with no context it returns openers.
func (r *Router) SmartReplies(ctx context.Context, chatID string) []string {
	return r.enricher.SuggestReplies(ctx, r.cache.Recent(chatID))
}

// Translate renders a message in the target language, falling back to
// the original text when no translation is available.
func (r *Router) Translate(ctx context.Context, text, targetLang string) string {
	return r.enricher.Translate(ctx, text, targetLang)
}

// Summarize condenses the chat's recent messages.
func (r *Router) Summarize(ctx context.Context, chatID string) string {
	return r.enricher.Summarize(ctx, r.cache.Recent(chatID))
}

// Enhance improves a draft message's grammar and clarity before it is
// sent.
func (r *Router) Enhance(ctx context.Context, text string) string {
	return r.enricher.Enhance(ctx, text)
}

// AddContact creates the mutual contact relation and notifies the
// other user if they are online.
func (r *Router) AddContact(ctx context.Context, userID, contactID string) error {
	if userID == contactID {
		return fmt.Errorf("cannot add yourself as a contact")
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving user: %w", err)
	}
	if _, err := r.store.GetUser(ctx, contactID); err != nil {
		return fmt.Errorf("resolving contact: %w", err)
	}

	if err := r.store.AddContact(ctx, userID, contactID); err != nil {
		return err
	}

	r.notifyContact(contactID, EventContactAdded, user)
	return nil
}

// RemoveContact removes the mutual contact relation and notifies the
// other user if they are online.
func (r *Router) RemoveContact(ctx context.Context, userID, contactID string) error {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving user: %w", err)
	}

	if err := r.store.RemoveContact(ctx, userID, contactID); err != nil {
		return err
	}

	r.notifyContact(contactID, EventContactRemoved, user)
	return nil
}

// NotifyContactAdded announces userID's contact addition to the peer's
// live connection. The relation itself is managed over REST; this only
// pushes the notice.
func (r *Router) NotifyContactAdded(ctx context.Context, userID, contactID string) error {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving user: %w", err)
	}
	r.notifyContact(contactID, EventContactAdded, user)
	return nil
}

// NotifyContactRemoved announces userID's contact removal to the peer's
// live connection.
func (r *Router) NotifyContactRemoved(ctx context.Context, userID, contactID string) error {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving user: %w", err)
	}
	r.notifyContact(contactID, EventContactRemoved, user)
	return nil
}

func (r *Router) notifyContact(contactID, event string, user *store.User) {
	conn, ok := r.registry.Resolve(contactID)
	if !ok {
		return
	}
	payload := &ContactEvent{UserID: user.ID, Username: user.Username, Email: user.Email}
	if err := conn.Send(event, payload); err != nil {
		r.logger.Debug("contact notification failed", "user_id", contactID, "error", err)
	}
}

// Disconnect tears down a connection's presence. Room memberships are
// purged only when the handle was still the user's current one: a stale
// handle superseded by a reconnect must not evict the rooms the new
// connection has joined.
func (r *Router) Disconnect(conn *client.Conn) {
	if r.registry.Unregister(conn) {
		r.rooms.LeaveAll(conn.UserID)
	}
	conn.Close()
}
