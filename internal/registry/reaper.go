package registry

import (
	"context"
	"log"
	"time"
)

// Reaper periodically closes idle registry entries. It is bookkeeping only:
// it never calls the avatar provider, which times idle sessions out on its
// own clock.
type Reaper struct {
	store         Store
	idleThreshold time.Duration
	onReap        func(Entry)
}

func NewReaper(store Store, idleThreshold time.Duration) *Reaper {
	if idleThreshold <= 0 {
		idleThreshold = 5 * time.Minute
	}
	return &Reaper{store: store, idleThreshold: idleThreshold}
}

// SetReapHook installs a callback invoked once per reaped entry.
func (r *Reaper) SetReapHook(hook func(Entry)) {
	r.onReap = hook
}

func (r *Reaper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepOnce(ctx)
			}
		}
	}()
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.idleThreshold)
	closed, err := r.store.Sweep(ctx, cutoff)
	if err != nil {
		log.Printf("registry sweep failed: %v", err)
		return
	}
	for _, e := range closed {
		log.Printf("reaped idle session %s (owner %s)", e.SessionID, e.OwnerID)
		if r.onReap != nil {
			r.onReap(e)
		}
	}
}
