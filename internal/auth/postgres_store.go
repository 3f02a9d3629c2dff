package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSessionStore persists operator sessions to a Postgres table, allowing
// multiple dashboard replicas to share authentication state. Tokens are hashed
// before they reach the table so a database dump cannot be replayed as a login.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore opens a Postgres-backed session store using the provided DSN.
func NewPostgresSessionStore(dsn string) (*PostgresSessionStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres session dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres session config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres session pool: %w", err)
	}
	return &PostgresSessionStore{pool: pool}, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresSessionStore) Close(ctx context.Context) error {
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

// Save stores or updates the session token.
func (s *PostgresSessionStore) Save(token, operator string, expiresAt, absoluteExpiresAt time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(context.Background(), `
INSERT INTO operator_sessions (token_hash, operator, expires_at, absolute_expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token_hash) DO UPDATE SET operator = EXCLUDED.operator, expires_at = EXCLUDED.expires_at, absolute_expires_at = EXCLUDED.absolute_expires_at
`, hashed, operator, expiresAt.UTC(), absoluteExpiresAt.UTC())
	return err
}

// Get fetches the session details for the provided token.
func (s *PostgresSessionStore) Get(token string) (SessionRecord, bool, error) {
	if s.pool == nil {
		return SessionRecord{}, false, fmt.Errorf("postgres session pool not configured")
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return SessionRecord{}, false, err
	}
	row := s.pool.QueryRow(context.Background(), `
SELECT operator, expires_at, absolute_expires_at
FROM operator_sessions
WHERE token_hash = $1
`, hashed)
	var record SessionRecord
	record.Token = token
	if err := row.Scan(&record.Operator, &record.ExpiresAt, &record.AbsoluteExpiresAt); err != nil {
		if isNoRows(err) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, err
	}
	return record, true, nil
}

// Delete removes the session token.
func (s *PostgresSessionStore) Delete(token string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	hashed, err := hashSessionToken(token)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(context.Background(), `DELETE FROM operator_sessions WHERE token_hash = $1`, hashed)
	return err
}

// PurgeExpired deletes expired sessions from the table.
func (s *PostgresSessionStore) PurgeExpired(now time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	_, err := s.pool.Exec(context.Background(), `DELETE FROM operator_sessions WHERE expires_at <= $1`, now.UTC())
	return err
}

// Active counts sessions that have not yet expired.
func (s *PostgresSessionStore) Active(now time.Time) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("postgres session pool not configured")
	}
	row := s.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM operator_sessions WHERE expires_at > $1`, now.UTC())
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Ping verifies the Postgres pool is reachable.
func (s *PostgresSessionStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	return s.pool.Ping(ctx)
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}
