package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session bookkeeping in PostgreSQL so the registry
// survives restarts and can be shared by multiple instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS avatar_sessions (
			session_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_active TIMESTAMPTZ NOT NULL DEFAULT now(),
			user_stop_reported_at TIMESTAMPTZ,
			auto_closed_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS idx_avatar_sessions_status_last_active ON avatar_sessions (status, last_active);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Register(ctx context.Context, ownerID, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO avatar_sessions (session_id, owner_id, status, created_at, last_active)
		 VALUES ($1, $2, 'active', now(), now())
		 ON CONFLICT (session_id) DO UPDATE
		 SET owner_id = EXCLUDED.owner_id, status = 'active', last_active = now(),
		     user_stop_reported_at = NULL, auto_closed_at = NULL`,
		sessionID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, sessionID string, activityAt time.Time) error {
	if activityAt.IsZero() {
		activityAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE avatar_sessions SET last_active = GREATEST(last_active, $2) WHERE session_id = $1`,
		sessionID, activityAt,
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReportUserStop(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE avatar_sessions SET user_stop_reported_at = COALESCE(user_stop_reported_at, now())
		 WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("report user stop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) EndSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE avatar_sessions SET status = 'closed', last_active = now() WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, owner_id, status, created_at, last_active, user_stop_reported_at, auto_closed_at
		 FROM avatar_sessions WHERE session_id = $1`,
		sessionID,
	)
	var e Entry
	err := row.Scan(&e.SessionID, &e.OwnerID, &e.Status, &e.CreatedAt, &e.LastActive, &e.UserStopReportedAt, &e.AutoClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM avatar_sessions WHERE status = 'active'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("active count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Sweep(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE avatar_sessions
		 SET status = 'closed', auto_closed_at = now()
		 WHERE status = 'active'
		   AND (last_active < $1 OR (user_stop_reported_at IS NOT NULL AND user_stop_reported_at < $1))
		 RETURNING session_id, owner_id, status, created_at, last_active, user_stop_reported_at, auto_closed_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	defer rows.Close()

	var closed []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.OwnerID, &e.Status, &e.CreatedAt, &e.LastActive, &e.UserStopReportedAt, &e.AutoClosedAt); err != nil {
			return nil, fmt.Errorf("scan swept row: %w", err)
		}
		closed = append(closed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sweep rows: %w", err)
	}
	return closed, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
