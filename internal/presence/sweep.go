package presence

import (
	"context"
	"log"
	"time"

	"github.com/roam-chat/roam/internal/metrics"
)

// SweepInterval is the cadence of the background liveness sweep.
const SweepInterval = 10 * time.Second

// CascadeFunc is called for every reaped session before its record is
// deleted, so the caller can tear down whatever the dead client still holds:
// its queue entry and its room membership. The session snapshot passed in is
// the last known state of the reaped session.
type CascadeFunc func(ctx context.Context, sess *Session)

// Sweeper periodically reaps sessions whose heartbeat has gone stale.
type Sweeper struct {
	store   *Store
	cascade CascadeFunc
}

// NewSweeper creates a Sweeper over the given store. The cascade hook may be
// nil when nothing besides the session record needs cleanup.
func NewSweeper(store *Store, cascade CascadeFunc) *Sweeper {
	return &Sweeper{store: store, cascade: cascade}
}

// Run executes the sweep loop until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweep] loop stopped")
			return
		case <-ticker.C:
			sw.SweepExpired(ctx)
		}
	}
}

// SweepExpired runs one pass: every session whose heartbeat age exceeds the
// timeout is deleted, after the cascade hook has had a chance to clean up the
// ghost's queue entry and room membership. Returns the number reaped.
func (sw *Sweeper) SweepExpired(ctx context.Context) int {
	stale, err := sw.store.Stale(ctx, time.Now())
	if err != nil {
		log.Printf("[sweep] stale scan failed: %v", err)
		return 0
	}

	reaped := 0
	for _, sid := range stale {
		sess, err := sw.store.Get(ctx, sid)
		if err != nil {
			log.Printf("[sweep] read %s: %v", sid, err)
			continue
		}
		if sess == nil {
			// Hash already expired; drop the dangling index entry.
			_ = sw.store.client.ZRem(ctx, IndexKey, sid).Err()
			continue
		}
		// Re-check against the timeout: the heartbeat may have been
		// refreshed between the index scan and this read.
		if sess.Alive(time.Now()) {
			continue
		}

		if sw.cascade != nil {
			sw.cascade(ctx, sess)
		}
		if err := sw.store.Delete(ctx, sid); err != nil {
			log.Printf("[sweep] delete %s: %v", sid, err)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		metrics.SweepReapedTotal.Add(float64(reaped))
		log.Printf("[sweep] reaped %d expired sessions", reaped)
	}
	return reaped
}
