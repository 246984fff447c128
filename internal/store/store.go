// Package store persists conversation transcripts.
//
// Entries arrive from the turn assembler once per completed turn. Two
// implementations exist: a PostgreSQL store for real deployments and an
// in-memory store for tests and the voice-only mode without a database.
package store

import (
	"context"
	"time"

	"github.com/baominh/greeter/internal/turns"
)

// Entry is a persisted transcript entry, tagged with the session it belongs
// to.
type Entry struct {
	// ID is the entry's unique identifier.
	ID string

	// SessionID groups entries belonging to one live session.
	SessionID string

	// Role is who spoke.
	Role turns.Role

	// Text is the full utterance.
	Text string

	// At is when the turn completed.
	At time.Time
}

// Query filters transcript listings. Zero-valued fields are ignored.
type Query struct {
	// SessionID restricts results to one session.
	SessionID string

	// Role restricts results to one speaker role.
	Role turns.Role

	// Since excludes entries completed before this time.
	Since time.Time

	// Limit caps the number of returned entries. Zero means no limit.
	Limit int
}

// Store is the transcript persistence interface. Implementations must be
// safe for concurrent use.
type Store interface {
	// SaveEntries appends the finished entries of one turn under sessionID.
	SaveEntries(ctx context.Context, sessionID string, entries []turns.Entry) error

	// List returns stored entries matching the query, oldest first.
	List(ctx context.Context, q Query) ([]Entry, error)

	// Close releases the store's resources.
	Close() error
}
