// ABOUTME: Store interface and data types for wirechat persistence
// ABOUTME: Defines User, ChatSession, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a session already exists for a participant pair
var ErrDuplicateSession = errors.New("session already exists")

// ErrDuplicateUser is returned when a user with the same email already exists
var ErrDuplicateUser = errors.New("user already exists")

// ErrDuplicateContact is returned when a contact edge already exists
var ErrDuplicateContact = errors.New("contact already exists")

// User represents a registered identity, keyed by email
type User struct {
	ID        string
	Username  string
	Email     string
	AvatarRef string
	CreatedAt time.Time
}

// ProfileUpdate holds the optional fields of a partial profile update.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	Username  *string
	Email     *string
	AvatarRef *string
}

// ChatSession is the durable record pairing two identities under one chat ID.
// The participant pair is stored normalized (UserLo < UserHi) so the
// UNIQUE constraint covers both orderings of the same pair.
type ChatSession struct {
	ID        string
	UserLo    string
	UserHi    string
	CreatedAt time.Time
}

// Participants returns both participant user IDs.
func (s *ChatSession) Participants() (string, string) {
	return s.UserLo, s.UserHi
}

// HasParticipant reports whether the given user ID belongs to this session.
func (s *ChatSession) HasParticipant(userID string) bool {
	return s.UserLo == userID || s.UserHi == userID
}

// Attachment is a file reference attached to a message
type Attachment struct {
	FileName string
	FileType string
	FileRef  string
}

// Enrichment holds the asynchronously-attached analysis of a message body
type Enrichment struct {
	Sentiment  string
	Confidence float64
	Language   string
}

// Message represents a single persisted chat message.
// Immutable once saved except for the Enrichment field, which is filled
// in after the fact via UpdateMessageEnrichment.
type Message struct {
	ID          string
	ChatID      string
	SenderID    string
	SenderEmail string
	ReceiverID  string
	Body        string
	Attachment  *Attachment
	Enrichment  *Enrichment
	CreatedAt   time.Time
}

// ConversationPreview is the latest message of a session together with
// the peer's public profile, used for contact-list sidebars.
type ConversationPreview struct {
	ChatID     string
	Body       string
	Timestamp  time.Time
	SenderID   string
	PeerID     string
	PeerName   string
	PeerEmail  string
	PeerAvatar string
}

// Store defines the interface for identity, session, message and contact persistence
type Store interface {
	// Identity directory
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) error

	// Chat sessions
	CreateSession(ctx context.Context, session *ChatSession) error
	GetSession(ctx context.Context, chatID string) (*ChatSession, error)
	FindSession(ctx context.Context, userA, userB string) (*ChatSession, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatID string) ([]*Message, error)
	UpdateMessageEnrichment(ctx context.Context, messageID string, enrichment Enrichment) error
	ListConversationPreviews(ctx context.Context, userID string) ([]*ConversationPreview, error)

	// Contacts (always bidirectional, atomically)
	ListContacts(ctx context.Context, userID string) ([]*User, error)
	AddContact(ctx context.Context, userID, contactID string) error
	RemoveContact(ctx context.Context, userID, contactID string) error

	// Close releases any resources held by the store
	Close() error
}

// NormalizePair returns the two user IDs in canonical (lo, hi) order so
// that both orderings of a pair map to the same session row.
func NormalizePair(a, b string) (lo, hi string) {
	if a > b {
		return b, a
	}
	return a, b
}
