package registry

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

var ErrNotFound = errors.New("registry entry not found")

// Entry is the server-side shadow record for one avatar session. Its
// lifecycle is independent of the client-driven session: it is created on
// registration, refreshed by heartbeats, and closed by an explicit
// end-of-session report or by the idle reaper.
type Entry struct {
	SessionID          string     `json:"session_id"`
	OwnerID            string     `json:"owner_id"`
	Status             Status     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	LastActive         time.Time  `json:"last_active"`
	UserStopReportedAt *time.Time `json:"user_stop_reported_at,omitempty"`
	AutoClosedAt       *time.Time `json:"auto_closed_at,omitempty"`
}

// Store persists session bookkeeping records.
type Store interface {
	Register(ctx context.Context, ownerID, sessionID string) error
	Heartbeat(ctx context.Context, sessionID string, activityAt time.Time) error
	ReportUserStop(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*Entry, error)
	ActiveCount(ctx context.Context) (int, error)
	// Sweep closes every active entry whose last activity, or pending user
	// stop report, is older than cutoff, and returns the closed entries.
	Sweep(ctx context.Context, cutoff time.Time) ([]Entry, error)
	Close() error
}
