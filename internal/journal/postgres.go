package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time assertion that PostgresStore satisfies the Recorder interface.
var _ Recorder = (*PostgresStore)(nil)

const ddlSwitchEvents = `
CREATE TABLE IF NOT EXISTS switch_events (
    id           BIGSERIAL        PRIMARY KEY,
    run_id       TEXT             NOT NULL,
    at           TIMESTAMPTZ      NOT NULL,
    from_channel INTEGER          NOT NULL DEFAULT 0,
    to_channel   INTEGER          NOT NULL,
    mode         TEXT             NOT NULL,
    level        DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_switch_events_run_id
    ON switch_events (run_id);

CREATE INDEX IF NOT EXISTS idx_switch_events_at
    ON switch_events (at);
`

// PostgresStore is a PostgreSQL-backed implementation of [Recorder]. All
// operations are safe for concurrent use; they share a single [pgxpool.Pool].
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn and
// ensures the switch_events table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSwitchEvents); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Record implements [Recorder.Record].
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO switch_events (run_id, at, from_channel, to_channel, mode, level)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.RunID, e.At, e.FromChannel, e.ToChannel, e.Mode, e.Level,
	)
	if err != nil {
		return fmt.Errorf("journal: insert event: %w", err)
	}
	return nil
}

// Recent implements [Recorder.Recent].
func (s *PostgresStore) Recent(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, at, from_channel, to_channel, mode, level
		 FROM switch_events
		 WHERE ($1 = '' OR run_id = $1)
		 ORDER BY at DESC, id DESC
		 LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RunID, &e.At, &e.FromChannel, &e.ToChannel, &e.Mode, &e.Level); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return out, nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
