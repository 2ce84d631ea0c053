package registry

import (
	"context"
	"testing"
	"time"
)

func TestRegisterHeartbeatEnd(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Register(ctx, "owner-1", "sess-1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	entry, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.OwnerID != "owner-1" || entry.Status != StatusActive {
		t.Fatalf("unexpected entry state: %+v", entry)
	}

	later := entry.LastActive.Add(time.Minute)
	if err := s.Heartbeat(ctx, "sess-1", later); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	entry, _ = s.Get(ctx, "sess-1")
	if !entry.LastActive.Equal(later) {
		t.Fatalf("LastActive = %v, want %v", entry.LastActive, later)
	}

	if err := s.EndSession(ctx, "sess-1"); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}
	entry, _ = s.Get(ctx, "sess-1")
	if entry.Status != StatusClosed {
		t.Fatalf("Status = %q, want %q", entry.Status, StatusClosed)
	}
}

func TestHeartbeatUnknownSession(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Heartbeat(context.Background(), "missing", time.Now()); err != ErrNotFound {
		t.Fatalf("Heartbeat() error = %v, want ErrNotFound", err)
	}
}

func TestHeartbeatNeverRewindsActivity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Register(ctx, "owner-1", "sess-1")

	before, _ := s.Get(ctx, "sess-1")
	if err := s.Heartbeat(ctx, "sess-1", before.LastActive.Add(-time.Hour)); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	after, _ := s.Get(ctx, "sess-1")
	if after.LastActive.Before(before.LastActive) {
		t.Fatalf("LastActive rewound: %v -> %v", before.LastActive, after.LastActive)
	}
}

func TestSweepClosesIdleEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Register(ctx, "owner-1", "idle")
	_ = s.Register(ctx, "owner-2", "fresh")

	// Age the idle entry past the threshold.
	s.mu.Lock()
	s.entries["idle"].LastActive = time.Now().UTC().Add(-10 * time.Minute)
	s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	closed, err := s.Sweep(ctx, cutoff)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(closed) != 1 || closed[0].SessionID != "idle" {
		t.Fatalf("Sweep() closed %+v, want only the idle entry", closed)
	}
	if closed[0].AutoClosedAt == nil {
		t.Fatalf("reaped entry missing AutoClosedAt stamp")
	}

	fresh, _ := s.Get(ctx, "fresh")
	if fresh.Status != StatusActive {
		t.Fatalf("fresh entry status = %q, want active", fresh.Status)
	}
	idle, _ := s.Get(ctx, "idle")
	if idle.Status != StatusClosed {
		t.Fatalf("idle entry status = %q, want closed", idle.Status)
	}
}

func TestSweepClosesStaleUserStopReports(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Register(ctx, "owner-1", "sess-1")
	_ = s.ReportUserStop(ctx, "sess-1")

	// Recent heartbeats keep coming, but the user reported a stop long ago.
	stale := time.Now().UTC().Add(-10 * time.Minute)
	s.mu.Lock()
	s.entries["sess-1"].UserStopReportedAt = &stale
	s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	closed, err := s.Sweep(ctx, cutoff)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(closed) != 1 {
		t.Fatalf("Sweep() closed %d entries, want 1", len(closed))
	}
}

func TestReaperClosesIdleEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemoryStore()
	_ = s.Register(ctx, "owner-1", "sess-1")
	s.mu.Lock()
	s.entries["sess-1"].LastActive = time.Now().UTC().Add(-time.Hour)
	s.mu.Unlock()

	reaped := make(chan Entry, 1)
	r := NewReaper(s, 30*time.Millisecond)
	r.SetReapHook(func(e Entry) { reaped <- e })
	r.Start(ctx, 10*time.Millisecond)

	select {
	case e := <-reaped:
		if e.SessionID != "sess-1" {
			t.Fatalf("reaped %q, want sess-1", e.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatalf("reaper did not close the idle entry in time")
	}
}
