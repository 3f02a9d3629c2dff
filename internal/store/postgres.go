package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists dashboard state to Postgres so multiple dashboard
// replicas share it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS collapse_state (
    process_id   TEXT NOT NULL,
    kind         TEXT NOT NULL,
    is_collapsed BOOLEAN NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (process_id, kind)
);
CREATE TABLE IF NOT EXISTS enabled_state (
    process_id TEXT PRIMARY KEY,
    is_enabled BOOLEAN NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS recording_state (
    process_id   TEXT PRIMARY KEY,
    is_recording BOOLEAN NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore opens a Postgres-backed store using the provided DSN and
// applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool, bounded by ctx.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Ping verifies the pool is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return s.pool.Ping(ctx)
}

// ListCollapse returns every collapse record held for the process.
func (s *PostgresStore) ListCollapse(ctx context.Context, processID string) ([]CollapseState, error) {
	rows, err := s.pool.Query(ctx, `
SELECT process_id, kind, is_collapsed, updated_at
FROM collapse_state
WHERE process_id = $1
`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CollapseState
	for rows.Next() {
		var state CollapseState
		if err := rows.Scan(&state.ProcessID, &state.Kind, &state.IsCollapsed, &state.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// UpsertCollapse stores a collapse record keyed by process id and panel kind.
func (s *PostgresStore) UpsertCollapse(ctx context.Context, state CollapseState) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO collapse_state (process_id, kind, is_collapsed, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (process_id, kind) DO UPDATE SET is_collapsed = EXCLUDED.is_collapsed, updated_at = EXCLUDED.updated_at
`, state.ProcessID, state.Kind, state.IsCollapsed, state.UpdatedAt.UTC())
	return err
}

// DeleteCollapse removes all collapse records for the process.
func (s *PostgresStore) DeleteCollapse(ctx context.Context, processID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM collapse_state WHERE process_id = $1`, processID)
	return err
}

// GetEnabled fetches the enable switch record for the process.
func (s *PostgresStore) GetEnabled(ctx context.Context, processID string) (EnabledState, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT process_id, is_enabled, updated_at
FROM enabled_state
WHERE process_id = $1
`, processID)
	var state EnabledState
	if err := row.Scan(&state.ProcessID, &state.IsEnabled, &state.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EnabledState{}, false, nil
		}
		return EnabledState{}, false, err
	}
	return state, true, nil
}

// UpsertEnabled stores the enable switch record for the process.
func (s *PostgresStore) UpsertEnabled(ctx context.Context, state EnabledState) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO enabled_state (process_id, is_enabled, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (process_id) DO UPDATE SET is_enabled = EXCLUDED.is_enabled, updated_at = EXCLUDED.updated_at
`, state.ProcessID, state.IsEnabled, state.UpdatedAt.UTC())
	return err
}

// DeleteEnabled removes the enable switch record for the process.
func (s *PostgresStore) DeleteEnabled(ctx context.Context, processID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM enabled_state WHERE process_id = $1`, processID)
	return err
}

// GetRecording fetches the recording flag for the process.
func (s *PostgresStore) GetRecording(ctx context.Context, processID string) (RecordingState, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT process_id, is_recording, last_updated
FROM recording_state
WHERE process_id = $1
`, processID)
	var state RecordingState
	if err := row.Scan(&state.ProcessID, &state.IsRecording, &state.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RecordingState{}, false, nil
		}
		return RecordingState{}, false, err
	}
	return state, true, nil
}

// UpsertRecording stores the recording flag for the process.
func (s *PostgresStore) UpsertRecording(ctx context.Context, state RecordingState) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO recording_state (process_id, is_recording, last_updated)
VALUES ($1, $2, $3)
ON CONFLICT (process_id) DO UPDATE SET is_recording = EXCLUDED.is_recording, last_updated = EXCLUDED.last_updated
`, state.ProcessID, state.IsRecording, state.LastUpdated.UTC())
	return err
}

// DeleteRecording removes the recording flag for the process.
func (s *PostgresStore) DeleteRecording(ctx context.Context, processID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM recording_state WHERE process_id = $1`, processID)
	return err
}

var _ Store = (*PostgresStore)(nil)
