// ABOUTME: Inbound socket event definitions and boundary validation
// ABOUTME: Every payload is validated before it reaches the router

package gateway

import (
	"errors"
	"fmt"

	"github.com/wirechat/wirechat/internal/store"
)

// Inbound event names accepted on the socket.
const (
	EventRegisterUser      = "register_user"
	EventCreateChatSession = "create_chat_session"
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventFetchMessages     = "fetch_messages"
	EventGetSmartReplies   = "get_smart_replies"
	EventTranslateMessage  = "translate_message"
	EventSummarize         = "summarize_conversation"
	EventEnhanceMessage    = "enhance_message"
	// Contact notices announce an already-committed REST contact change
	// to the peer's live connection.
	EventContactAddedNotice   = "contact_added_notice"
	EventContactRemovedNotice = "contact_removed_notice"
)

// Outbound acknowledgment and response event names.
const (
	EventRegistered          = "registered"
	EventChatSessionCreated  = "chat_session_created"
	EventRoomJoined          = "room_joined"
	EventRoomLeft            = "room_left"
	EventMessageHistory      = "message_history"
	EventSmartReplies        = "smart_replies"
	EventMessageTranslated   = "message_translated"
	EventConversationSummary = "conversation_summary"
	EventMessageEnhanced     = "message_enhanced"
	EventError               = "error"
)

// maxBodyLength caps message and draft text sizes.
const maxBodyLength = 8192

// ErrorPayload is sent on the error event. Event names the inbound
// event that failed.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// RegisterUserData binds the connection to a user.
type RegisterUserData struct {
	UserID string `json:"user_id"`
}

func (d *RegisterUserData) Validate() error {
	if d.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// CreateChatSessionData requests the session for the caller and a peer.
type CreateChatSessionData struct {
	PeerID string `json:"peer_id"`
}

func (d *CreateChatSessionData) Validate() error {
	if d.PeerID == "" {
		return errors.New("peer_id is required")
	}
	return nil
}

// ChatSessionCreatedData acknowledges create_chat_session.
type ChatSessionCreatedData struct {
	ChatID  string `json:"chat_id"`
	PeerID  string `json:"peer_id"`
	Created bool   `json:"created"`
}

// RoomData names a chat room. Used by join_room, leave_room,
// fetch_messages, get_smart_replies, and summarize_conversation.
type RoomData struct {
	ChatID string `json:"chat_id"`
}

func (d *RoomData) Validate() error {
	if d.ChatID == "" {
		return errors.New("chat_id is required")
	}
	return nil
}

// AttachmentData describes a file reference carried by a message.
type AttachmentData struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileRef  string `json:"file_ref"`
}

// SendMessageData carries an outgoing chat message.
type SendMessageData struct {
	ChatID     string          `json:"chat_id"`
	Body       string          `json:"body"`
	Attachment *AttachmentData `json:"attachment,omitempty"`
}

func (d *SendMessageData) Validate() error {
	if d.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if d.Body == "" && d.Attachment == nil {
		return errors.New("message needs a body or an attachment")
	}
	if len(d.Body) > maxBodyLength {
		return fmt.Errorf("body exceeds %d bytes", maxBodyLength)
	}
	if d.Attachment != nil {
		if d.Attachment.FileName == "" || d.Attachment.FileRef == "" {
			return errors.New("attachment needs file_name and file_ref")
		}
	}
	return nil
}

// StoreAttachment converts the wire attachment to its store form.
func (d *SendMessageData) StoreAttachment() *store.Attachment {
	if d.Attachment == nil {
		return nil
	}
	return &store.Attachment{
		FileName: d.Attachment.FileName,
		FileType: d.Attachment.FileType,
		FileRef:  d.Attachment.FileRef,
	}
}

// ContactNoticeData names the peer of a contact change.
type ContactNoticeData struct {
	ContactID string `json:"contact_id"`
}

func (d *ContactNoticeData) Validate() error {
	if d.ContactID == "" {
		return errors.New("contact_id is required")
	}
	return nil
}

// TranslateMessageData requests a translation of arbitrary text.
type TranslateMessageData struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

func (d *TranslateMessageData) Validate() error {
	if d.Text == "" {
		return errors.New("text is required")
	}
	if len(d.Text) > maxBodyLength {
		return fmt.Errorf("text exceeds %d bytes", maxBodyLength)
	}
	if d.TargetLanguage == "" {
		return errors.New("target_language is required")
	}
	return nil
}

// EnhanceMessageData requests grammar cleanup of a draft.
type EnhanceMessageData struct {
	Text string `json:"text"`
}

func (d *EnhanceMessageData) Validate() error {
	if d.Text == "" {
		return errors.New("text is required")
	}
	if len(d.Text) > maxBodyLength {
		return fmt.Errorf("text exceeds %d bytes", maxBodyLength)
	}
	return nil
}
