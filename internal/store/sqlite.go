// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/session/message/contact persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// messageTimeLayout is a fixed-width RFC 3339 layout for message
// timestamps. Zero-padded fractional seconds keep the lexical ORDER BY
// on the TEXT column chronological; RFC3339Nano trims trailing zeros
// and sorts "...:07Z" after "...:07.5Z".
const messageTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// newContactID generates a fresh ID for a contact edge row
func newContactID() string {
	return uuid.New().String()
}

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			user_id    TEXT PRIMARY KEY,
			username   TEXT NOT NULL,
			email      TEXT NOT NULL UNIQUE,
			avatar_ref TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS chat_sessions (
			chat_id    TEXT PRIMARY KEY,
			user_lo    TEXT NOT NULL REFERENCES users(user_id),
			user_hi    TEXT NOT NULL REFERENCES users(user_id),
			created_at TEXT NOT NULL,

			UNIQUE(user_lo, user_hi)
		);

		CREATE TABLE IF NOT EXISTS messages (
			message_id           TEXT PRIMARY KEY,
			chat_id              TEXT NOT NULL REFERENCES chat_sessions(chat_id),
			sender_id            TEXT NOT NULL,
			receiver_id          TEXT NOT NULL,
			body                 TEXT NOT NULL,
			sentiment            TEXT,
			sentiment_confidence REAL,
			language             TEXT,
			created_at           TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages(chat_id, created_at);

		CREATE TABLE IF NOT EXISTS message_attachments (
			message_id TEXT PRIMARY KEY REFERENCES messages(message_id),
			file_name  TEXT NOT NULL,
			file_type  TEXT NOT NULL,
			file_ref   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS contacts (
			contact_id      TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL REFERENCES users(user_id),
			contact_user_id TEXT NOT NULL REFERENCES users(user_id),
			created_at      TEXT NOT NULL,

			UNIQUE(user_id, contact_user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateUser inserts a new user.
// Returns ErrDuplicateUser if a user with the same email already exists.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (user_id, username, email, avatar_ref, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		nullString(user.AvatarRef),
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "user_id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT user_id, username, email, avatar_ref, created_at
		FROM users
		WHERE user_id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
// Returns ErrNotFound if no user is registered under that email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT user_id, username, email, avatar_ref, created_at
		FROM users
		WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var avatarRef sql.NullString
	var createdAtStr string

	err := row.Scan(&user.ID, &user.Username, &user.Email, &avatarRef, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if avatarRef.Valid {
		user.AvatarRef = avatarRef.String
	}
	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// ListUsers returns all registered users ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT user_id, username, email, avatar_ref, created_at
		FROM users
		ORDER BY username
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		var avatarRef sql.NullString
		var createdAtStr string

		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &avatarRef, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		if avatarRef.Valid {
			user.AvatarRef = avatarRef.String
		}
		user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// UpdateProfile applies a partial profile update.
// Returns ErrNotFound if the user doesn't exist and ErrDuplicateUser if
// the new email is already taken by someone else.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) error {
	var fields []string
	var args []any

	if update.Username != nil {
		fields = append(fields, "username = ?")
		args = append(args, *update.Username)
	}
	if update.Email != nil {
		fields = append(fields, "email = ?")
		args = append(args, *update.Email)
	}
	if update.AvatarRef != nil {
		fields = append(fields, "avatar_ref = ?")
		args = append(args, *update.AvatarRef)
	}

	if len(fields) == 0 {
		return nil
	}

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE users SET %s WHERE user_id = ?", strings.Join(fields, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("updating profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated profile", "user_id", userID)
	return nil
}

// CreateSession inserts a new chat session row.
// The UNIQUE(user_lo, user_hi) constraint is the authoritative guard
// against duplicate sessions for a pair: a conflicting insert returns
// ErrDuplicateSession so the caller can reinterpret it as a lookup.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *ChatSession) error {
	lo, hi := NormalizePair(session.UserLo, session.UserHi)

	query := `
		INSERT INTO chat_sessions (chat_id, user_lo, user_hi, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		lo,
		hi,
		session.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	session.UserLo, session.UserHi = lo, hi
	s.logger.Debug("created session", "chat_id", session.ID)
	return nil
}

// GetSession retrieves a session by chat ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, chatID string) (*ChatSession, error) {
	query := `
		SELECT chat_id, user_lo, user_hi, created_at
		FROM chat_sessions
		WHERE chat_id = ?
	`
	return s.scanSession(s.db.QueryRowContext(ctx, query, chatID))
}

// FindSession retrieves the session for an unordered participant pair.
// Returns ErrNotFound if no session exists for the pair.
func (s *SQLiteStore) FindSession(ctx context.Context, userA, userB string) (*ChatSession, error) {
	lo, hi := NormalizePair(userA, userB)

	query := `
		SELECT chat_id, user_lo, user_hi, created_at
		FROM chat_sessions
		WHERE user_lo = ? AND user_hi = ?
	`
	return s.scanSession(s.db.QueryRowContext(ctx, query, lo, hi))
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*ChatSession, error) {
	var session ChatSession
	var createdAtStr string

	err := row.Scan(&session.ID, &session.UserLo, &session.UserHi, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &session, nil
}

// SaveMessage persists a message and its optional attachment in a single
// transaction. A failure on either insert rolls back both.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var sentiment, language any
	var confidence any
	if msg.Enrichment != nil {
		sentiment = msg.Enrichment.Sentiment
		confidence = msg.Enrichment.Confidence
		language = msg.Enrichment.Language
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, chat_id, sender_id, receiver_id, body, sentiment, sentiment_confidence, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ChatID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Body,
		sentiment,
		confidence,
		language,
		msg.CreatedAt.UTC().Format(messageTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if msg.Attachment != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_attachments (message_id, file_name, file_type, file_ref)
			VALUES (?, ?, ?, ?)
		`,
			msg.ID,
			msg.Attachment.FileName,
			msg.Attachment.FileType,
			msg.Attachment.FileRef,
		)
		if err != nil {
			return fmt.Errorf("inserting attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "message_id", msg.ID, "chat_id", msg.ChatID)
	return nil
}

// ListMessages retrieves all messages for a chat in chronological order
// (oldest first), with sender emails and attachments resolved.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	query := `
		SELECT m.message_id, m.chat_id, m.sender_id, u.email, m.receiver_id, m.body,
		       m.sentiment, m.sentiment_confidence, m.language, m.created_at,
		       a.file_name, a.file_type, a.file_ref
		FROM messages m
		JOIN users u ON m.sender_id = u.user_id
		LEFT JOIN message_attachments a ON a.message_id = m.message_id
		WHERE m.chat_id = ?
		ORDER BY m.created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var sentiment, language, fileName, fileType, fileRef sql.NullString
		var confidence sql.NullFloat64

		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.SenderEmail, &msg.ReceiverID, &msg.Body,
			&sentiment, &confidence, &language, &createdAtStr,
			&fileName, &fileType, &fileRef); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		if sentiment.Valid {
			msg.Enrichment = &Enrichment{
				Sentiment:  sentiment.String,
				Confidence: confidence.Float64,
				Language:   language.String,
			}
		}
		if fileName.Valid {
			msg.Attachment = &Attachment{
				FileName: fileName.String,
				FileType: fileType.String,
				FileRef:  fileRef.String,
			}
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// UpdateMessageEnrichment fills in the enrichment fields of a persisted
// message. This is the only permitted mutation of a saved message.
func (s *SQLiteStore) UpdateMessageEnrichment(ctx context.Context, messageID string, enrichment Enrichment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET sentiment = ?, sentiment_confidence = ?, language = ?
		WHERE message_id = ?
	`, enrichment.Sentiment, enrichment.Confidence, enrichment.Language, messageID)
	if err != nil {
		return fmt.Errorf("updating message enrichment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversationPreviews returns the latest message of every session the
// user participates in, together with the peer's public profile.
func (s *SQLiteStore) ListConversationPreviews(ctx context.Context, userID string) ([]*ConversationPreview, error) {
	query := `
		SELECT m.chat_id, m.body, m.created_at, m.sender_id,
		       u.user_id, u.username, u.email, u.avatar_ref
		FROM messages m
		JOIN (
			SELECT chat_id, MAX(created_at) AS max_time
			FROM messages
			GROUP BY chat_id
		) latest ON m.chat_id = latest.chat_id AND m.created_at = latest.max_time
		JOIN chat_sessions cs ON cs.chat_id = m.chat_id
		JOIN users u ON (u.user_id = cs.user_lo OR u.user_id = cs.user_hi)
		WHERE (cs.user_lo = ? OR cs.user_hi = ?)
		  AND u.user_id != ?
		ORDER BY m.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation previews: %w", err)
	}
	defer rows.Close()

	var previews []*ConversationPreview
	for rows.Next() {
		var p ConversationPreview
		var createdAtStr string
		var avatarRef sql.NullString

		if err := rows.Scan(&p.ChatID, &p.Body, &createdAtStr, &p.SenderID,
			&p.PeerID, &p.PeerName, &p.PeerEmail, &avatarRef); err != nil {
			return nil, fmt.Errorf("scanning preview row: %w", err)
		}

		p.Timestamp, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing preview timestamp: %w", err)
		}
		if avatarRef.Valid {
			p.PeerAvatar = avatarRef.String
		}
		previews = append(previews, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating preview rows: %w", err)
	}
	return previews, nil
}

// ListContacts returns the users the given user has as contacts, ordered by username.
func (s *SQLiteStore) ListContacts(ctx context.Context, userID string) ([]*User, error) {
	query := `
		SELECT u.user_id, u.username, u.email, u.avatar_ref, u.created_at
		FROM contacts c
		JOIN users u ON c.contact_user_id = u.user_id
		WHERE c.user_id = ?
		ORDER BY u.username
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*User
	for rows.Next() {
		var user User
		var avatarRef sql.NullString
		var createdAtStr string

		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &avatarRef, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning contact row: %w", err)
		}
		if avatarRef.Valid {
			user.AvatarRef = avatarRef.String
		}
		user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		contacts = append(contacts, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contact rows: %w", err)
	}
	return contacts, nil
}

// AddContact inserts both directed edges of the contact relation in a
// single transaction. A failure on either insert rolls back both, so the
// edge set stays symmetric. Returns ErrDuplicateContact if the edge exists.
func (s *SQLiteStore) AddContact(ctx context.Context, userID, contactID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, pair := range [][2]string{{userID, contactID}, {contactID, userID}} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO contacts (contact_id, user_id, contact_user_id, created_at)
			VALUES (?, ?, ?, ?)
		`, newContactID(), pair[0], pair[1], now)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicateContact
			}
			return fmt.Errorf("inserting contact edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing contact: %w", err)
	}

	s.logger.Debug("added contact", "user_id", userID, "contact_id", contactID)
	return nil
}

// RemoveContact deletes both directed edges of the contact relation in a
// single transaction.
func (s *SQLiteStore) RemoveContact(ctx context.Context, userID, contactID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM contacts
		WHERE (user_id = ? AND contact_user_id = ?)
		   OR (user_id = ? AND contact_user_id = ?)
	`, userID, contactID, contactID, userID)
	if err != nil {
		return fmt.Errorf("deleting contact edges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing contact removal: %w", err)
	}

	s.logger.Debug("removed contact", "user_id", userID, "contact_id", contactID)
	return nil
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
