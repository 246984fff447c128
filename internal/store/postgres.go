package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baominh/greeter/internal/turns"
)

// Compile-time interface assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists transcripts in a transcript_entries table.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn, verifies the connection,
// and ensures the transcript schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the transcript table and indexes if missing.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS transcript_entries (
		    id         text PRIMARY KEY,
		    session_id text NOT NULL,
		    role       text NOT NULL,
		    text       text NOT NULL,
		    created_at timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transcript_entries_session_idx
		    ON transcript_entries (session_id, created_at)`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("transcript store: ensure schema: %w", err)
	}
	return nil
}

// SaveEntries implements [Store]. The entries of one turn are written in a
// single batch.
func (s *PostgresStore) SaveEntries(ctx context.Context, sessionID string, entries []turns.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const q = `
		INSERT INTO transcript_entries (id, session_id, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, e.ID, sessionID, string(e.Role), e.Text, e.At)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("transcript store: save entries: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, query Query) ([]Entry, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"true"}
	if query.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(query.SessionID))
	}
	if query.Role != "" {
		conditions = append(conditions, "role = "+next(string(query.Role)))
	}
	if !query.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+next(query.Since))
	}

	q := "SELECT id, session_id, role, text, created_at\n" +
		"FROM   transcript_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at"

	if query.Limit > 0 {
		args = append(args, query.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e    Entry
			role string
		)
		if err := row.Scan(&e.ID, &e.SessionID, &role, &e.Text, &e.At); err != nil {
			return Entry{}, err
		}
		e.Role = turns.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan: %w", err)
	}
	return entries, nil
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
