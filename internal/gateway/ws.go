// ABOUTME: WebSocket endpoint: accept, register handshake, rate-limited read loop, dispatch
// ABOUTME: Adapts the socket to the client.Transport interface consumed by the registry

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wirechat/wirechat/internal/client"
	"github.com/wirechat/wirechat/internal/metrics"
	"github.com/wirechat/wirechat/internal/router"
	"github.com/wirechat/wirechat/internal/store"
)

// registerTimeout bounds how long a fresh socket may sit unregistered.
const registerTimeout = 10 * time.Second

// wsTransport adapts a websocket connection to client.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "closing")
}

// socketHandler serves the /ws endpoint.
type socketHandler struct {
	router *router.Router
	store  store.Store
	logger *slog.Logger

	originPatterns  []string
	eventsPerSecond float64
	eventBurst      int
}

func newSocketHandler(rt *router.Router, st store.Store, originPatterns []string, eventsPerSecond float64, eventBurst int, logger *slog.Logger) *socketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &socketHandler{
		router:          rt,
		store:           st,
		logger:          logger.With("component", "ws"),
		originPatterns:  originPatterns,
		eventsPerSecond: eventsPerSecond,
		eventBurst:      eventBurst,
	}
}

func (h *socketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}

	conn, err := h.register(r.Context(), ws)
	if err != nil {
		h.logger.Debug("registration failed", "error", err)
		ws.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	h.readLoop(r.Context(), ws, conn)
}

// register waits for the mandatory register_user handshake and binds
// the socket to its user.
func (h *socketHandler) register(ctx context.Context, ws *websocket.Conn) (*client.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	_, frame, err := ws.Read(ctx)
	if err != nil {
		return nil, errors.New("connection closed before registration")
	}

	var env client.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.New("malformed registration frame")
	}
	if env.Event != EventRegisterUser {
		return nil, errors.New("first event must be register_user")
	}

	var data RegisterUserData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.New("malformed register_user payload")
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	if _, err := h.store.GetUser(ctx, data.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("unknown user")
		}
		return nil, err
	}

	conn := client.NewConn(uuid.New().String(), data.UserID, &wsTransport{conn: ws})
	if prev := h.router.Register(conn); prev != nil {
		prev.Close()
	}

	metrics.EventsReceived.WithLabelValues(EventRegisterUser).Inc()
	if err := conn.Send(EventRegistered, &RegisterUserData{UserID: data.UserID}); err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop pumps inbound frames through the rate limiter into the
// dispatcher until the socket dies, then tears down presence.
func (h *socketHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *client.Conn) {
	defer h.router.Disconnect(conn)

	limiter := rate.NewLimiter(rate.Limit(h.eventsPerSecond), h.eventBurst)

	for {
		_, frame, err := ws.Read(ctx)
		if err != nil {
			h.logger.Debug("read loop ended", "user_id", conn.UserID, "error", err)
			return
		}

		var env client.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			h.sendError(conn, "", "malformed event frame")
			continue
		}

		if !limiter.Allow() {
			metrics.RateLimitHits.WithLabelValues(env.Event).Inc()
			h.sendError(conn, env.Event, "too many events, slow down")
			continue
		}

		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		h.dispatch(ctx, conn, &env)
	}
}

// dispatch routes one validated event to the router and pushes the
// response back on the connection's queue.
func (h *socketHandler) dispatch(ctx context.Context, conn *client.Conn, env *client.Envelope) {
	switch env.Event {
	case EventCreateChatSession:
		h.handleCreateChatSession(ctx, conn, env.Data)
	case EventJoinRoom:
		h.handleJoinRoom(ctx, conn, env.Data)
	case EventLeaveRoom:
		h.handleLeaveRoom(conn, env.Data)
	case EventSendMessage:
		h.handleSendMessage(ctx, conn, env.Data)
	case EventFetchMessages:
		h.handleFetchMessages(ctx, conn, env.Data)
	case EventGetSmartReplies:
		h.handleSmartReplies(ctx, conn, env.Data)
	case EventTranslateMessage:
		h.handleTranslate(ctx, conn, env.Data)
	case EventSummarize:
		h.handleSummarize(ctx, conn, env.Data)
	case EventEnhanceMessage:
		h.handleEnhance(ctx, conn, env.Data)
	case EventContactAddedNotice:
		h.handleContactNotice(ctx, conn, env.Event, env.Data)
	case EventContactRemovedNotice:
		h.handleContactNotice(ctx, conn, env.Event, env.Data)
	case EventRegisterUser:
		// Already registered; re-registration on a live socket is a
		// client bug, not a reason to drop the connection.
		h.sendError(conn, env.Event, "connection already registered")
	default:
		h.sendError(conn, env.Event, "unknown event")
	}
}

func (h *socketHandler) handleCreateChatSession(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data CreateChatSessionData
	if !h.decode(conn, EventCreateChatSession, raw, &data) {
		return
	}

	session, created, err := h.router.CreateSession(ctx, conn.UserID, data.PeerID)
	if err != nil {
		h.sendError(conn, EventCreateChatSession, err.Error())
		return
	}

	h.send(conn, EventChatSessionCreated, &ChatSessionCreatedData{
		ChatID:  session.ID,
		PeerID:  data.PeerID,
		Created: created,
	})
}

func (h *socketHandler) handleJoinRoom(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data RoomData
	if !h.decode(conn, EventJoinRoom, raw, &data) {
		return
	}

	if err := h.router.JoinRoom(ctx, conn.UserID, data.ChatID); err != nil {
		h.sendError(conn, EventJoinRoom, err.Error())
		return
	}
	h.send(conn, EventRoomJoined, &data)
}

func (h *socketHandler) handleLeaveRoom(conn *client.Conn, raw json.RawMessage) {
	var data RoomData
	if !h.decode(conn, EventLeaveRoom, raw, &data) {
		return
	}

	h.router.LeaveRoom(conn.UserID, data.ChatID)
	h.send(conn, EventRoomLeft, &data)
}

func (h *socketHandler) handleSendMessage(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data SendMessageData
	if !h.decode(conn, EventSendMessage, raw, &data) {
		return
	}

	_, err := h.router.SendMessage(ctx, &router.SendRequest{
		ChatID:     data.ChatID,
		SenderID:   conn.UserID,
		Body:       data.Body,
		Attachment: data.StoreAttachment(),
	})
	if err != nil {
		// Delivery failures stay with the sender; nothing was
		// persisted, so other members see nothing.
		h.sendError(conn, EventSendMessage, err.Error())
	}
}

func (h *socketHandler) handleFetchMessages(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data RoomData
	if !h.decode(conn, EventFetchMessages, raw, &data) {
		return
	}

	messages, err := h.router.FetchHistory(ctx, conn.UserID, data.ChatID)
	if err != nil {
		h.sendError(conn, EventFetchMessages, err.Error())
		return
	}

	h.send(conn, EventMessageHistory, &historyPayload{
		ChatID:   data.ChatID,
		Messages: toWireMessages(messages),
	})
}

// handleContactNotice relays a contact change the caller committed
// over REST to the named peer's live connection.
func (h *socketHandler) handleContactNotice(ctx context.Context, conn *client.Conn, event string, raw json.RawMessage) {
	var data ContactNoticeData
	if !h.decode(conn, event, raw, &data) {
		return
	}

	var err error
	if event == EventContactAddedNotice {
		err = h.router.NotifyContactAdded(ctx, conn.UserID, data.ContactID)
	} else {
		err = h.router.NotifyContactRemoved(ctx, conn.UserID, data.ContactID)
	}
	if err != nil {
		h.sendError(conn, event, err.Error())
	}
}

func (h *socketHandler) handleSmartReplies(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data RoomData
	if !h.decode(conn, EventGetSmartReplies, raw, &data) {
		return
	}

	replies := h.router.SmartReplies(ctx, data.ChatID)
	h.send(conn, EventSmartReplies, map[string]any{
		"chat_id": data.ChatID,
		"replies": replies,
	})
}

func (h *socketHandler) handleTranslate(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data TranslateMessageData
	if !h.decode(conn, EventTranslateMessage, raw, &data) {
		return
	}

	translated := h.router.Translate(ctx, data.Text, data.TargetLanguage)
	h.send(conn, EventMessageTranslated, map[string]any{
		"original":        data.Text,
		"translated":      translated,
		"target_language": data.TargetLanguage,
	})
}

func (h *socketHandler) handleSummarize(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data RoomData
	if !h.decode(conn, EventSummarize, raw, &data) {
		return
	}

	summary := h.router.Summarize(ctx, data.ChatID)
	h.send(conn, EventConversationSummary, map[string]any{
		"chat_id": data.ChatID,
		"summary": summary,
	})
}

func (h *socketHandler) handleEnhance(ctx context.Context, conn *client.Conn, raw json.RawMessage) {
	var data EnhanceMessageData
	if !h.decode(conn, EventEnhanceMessage, raw, &data) {
		return
	}

	enhanced := h.router.Enhance(ctx, data.Text)
	h.send(conn, EventMessageEnhanced, map[string]any{
		"original": data.Text,
		"enhanced": enhanced,
	})
}

// decode unmarshals and validates an event payload, reporting failures
// back to the client. Returns false when the payload was rejected.
func (h *socketHandler) decode(conn *client.Conn, event string, raw json.RawMessage, dst interface {
	Validate() error
}) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		h.sendError(conn, event, "malformed payload")
		return false
	}
	if err := dst.Validate(); err != nil {
		h.sendError(conn, event, err.Error())
		return false
	}
	return true
}

func (h *socketHandler) send(conn *client.Conn, event string, data any) {
	if err := conn.Send(event, data); err != nil {
		h.logger.Debug("send failed", "event", event, "user_id", conn.UserID, "error", err)
	}
}

func (h *socketHandler) sendError(conn *client.Conn, event, message string) {
	h.send(conn, EventError, &ErrorPayload{Event: event, Message: message})
}

// wireMessage is the JSON shape of a persisted message.
type wireMessage struct {
	MessageID   string          `json:"message_id"`
	ChatID      string          `json:"chat_id"`
	SenderID    string          `json:"sender_id"`
	SenderEmail string          `json:"sender_email"`
	Body        string          `json:"body"`
	Attachment  *AttachmentData `json:"attachment,omitempty"`
	Sentiment   string          `json:"sentiment,omitempty"`
	Confidence  float64         `json:"confidence,omitempty"`
	Language    string          `json:"language,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type historyPayload struct {
	ChatID   string        `json:"chat_id"`
	Messages []wireMessage `json:"messages"`
}

func toWireMessages(messages []*store.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			MessageID:   m.ID,
			ChatID:      m.ChatID,
			SenderID:    m.SenderID,
			SenderEmail: m.SenderEmail,
			Body:        m.Body,
			Timestamp:   m.CreatedAt,
		}
		if m.Attachment != nil {
			wm.Attachment = &AttachmentData{
				FileName: m.Attachment.FileName,
				FileType: m.Attachment.FileType,
				FileRef:  m.Attachment.FileRef,
			}
		}
		if m.Enrichment != nil {
			wm.Sentiment = m.Enrichment.Sentiment
			wm.Confidence = m.Enrichment.Confidence
			wm.Language = m.Enrichment.Language
		}
		out = append(out, wm)
	}
	return out
}
