package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps bookkeeping records in process memory. The session map is
// the one piece of process-wide shared state; every mutation is a short
// critical section under the mutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Register(_ context.Context, ownerID, sessionID string) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = &Entry{
		SessionID:  sessionID,
		OwnerID:    ownerID,
		Status:     StatusActive,
		CreatedAt:  now,
		LastActive: now,
	}
	return nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, sessionID string, activityAt time.Time) error {
	if activityAt.IsZero() {
		activityAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	if activityAt.After(e.LastActive) {
		e.LastActive = activityAt
	}
	return nil
}

func (s *MemoryStore) ReportUserStop(_ context.Context, sessionID string) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	if e.UserStopReportedAt == nil {
		e.UserStopReportedAt = &now
	}
	return nil
}

func (s *MemoryStore) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.Status = StatusClosed
	e.LastActive = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *MemoryStore) ActiveCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		if e.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) ([]Entry, error) {
	now := time.Now().UTC()
	var closed []Entry

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Status != StatusActive {
			continue
		}
		idle := e.LastActive.Before(cutoff)
		stale := e.UserStopReportedAt != nil && e.UserStopReportedAt.Before(cutoff)
		if !idle && !stale {
			continue
		}
		e.Status = StatusClosed
		stamp := now
		e.AutoClosedAt = &stamp
		closed = append(closed, *cloneEntry(e))
	}
	return closed, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneEntry(e *Entry) *Entry {
	c := *e
	if e.UserStopReportedAt != nil {
		t := *e.UserStopReportedAt
		c.UserStopReportedAt = &t
	}
	if e.AutoClosedAt != nil {
		t := *e.AutoClosedAt
		c.AutoClosedAt = &t
	}
	return &c
}
