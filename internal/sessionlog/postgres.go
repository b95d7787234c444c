package sessionlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the session_log table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS session_log (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    room_id     TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    text        TEXT NOT NULL DEFAULT '',
    has_image   BOOLEAN NOT NULL DEFAULT false,
    tool        TEXT NOT NULL DEFAULT '',
    is_error    BOOLEAN NOT NULL DEFAULT false,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_session_log_session ON session_log(session_id, id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("sessionlog: migrate: %w", err)
	}
	return nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	if e.SessionID == "" {
		return errors.New("sessionlog: entry has no session id")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	const query = `
		INSERT INTO session_log (session_id, room_id, kind, text, has_image, tool, is_error, duration_ms, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := s.db.Exec(ctx, query,
		e.SessionID, e.RoomID, string(e.Kind), e.Text, e.HasImage,
		e.Tool, e.IsError, e.DurationMs, e.At,
	)
	if err != nil {
		return fmt.Errorf("sessionlog: append: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]Entry, error) {
	const query = `
		SELECT session_id, room_id, kind, text, has_image, tool, is_error, duration_ms, at
		FROM session_log
		WHERE session_id = $1
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: list %q: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
		)
		if err := rows.Scan(&e.SessionID, &e.RoomID, &kind, &e.Text, &e.HasImage,
			&e.Tool, &e.IsError, &e.DurationMs, &e.At); err != nil {
			return nil, fmt.Errorf("sessionlog: scan: %w", err)
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionlog: list %q: %w", sessionID, err)
	}
	return entries, nil
}
