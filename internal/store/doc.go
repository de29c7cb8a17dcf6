// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - User: Registered identity, keyed by a unique email
//   - ChatSession: Durable pairing of two users under one chat ID
//   - Message: A persisted chat message with optional attachment and enrichment
//   - ConversationPreview: Latest message per session with the peer's profile
//
// # Sessions
//
// A participant pair is stored normalized (UserLo < UserHi lexically) and
// covered by a UNIQUE constraint, so both orderings of the same pair map to
// the same row. Concurrent creation attempts for one pair resolve at the
// database: exactly one insert wins, the rest get ErrDuplicateSession and
// re-read the winner.
//
// # Contacts
//
// The contact relation is symmetric. AddContact and RemoveContact touch both
// directed edges inside one transaction, so a partial pair can never be
// observed.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC 3339 strings in UTC.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateUser: Email already registered
//   - ErrDuplicateSession: Session already exists for the pair
//   - ErrDuplicateContact: Contact edge already exists
//
// All methods accept context.Context for cancellation support. Use
// NewSQLiteStore(":memory:") for tests with real SQLite.
package store
