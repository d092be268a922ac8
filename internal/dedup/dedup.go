// Package dedup provides the inbound event deduplication gate.
//
// The channel transport delivers events at least once and may redeliver the
// same event within minutes. The gate admits each distinct event id once per
// retention window and fails open: on any backend error the event is admitted
// rather than dropped, since a duplicate welcome message is preferable to a
// silently lost one.
package dedup

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultRetention is how long a seen event id suppresses redeliveries.
const DefaultRetention = 5 * time.Minute

// DefaultSweepInterval is how often expired entries are removed in the background.
const DefaultSweepInterval = time.Minute

// Gate decides whether an inbound event should be processed.
type Gate interface {
	// Admit returns true the first time a non-empty eventID is seen within
	// the retention window, and false for any duplicate inside the window.
	// Events with an empty id are always admitted; they cannot be
	// deduplicated, which is a deliberate trade-off.
	Admit(eventID string, at time.Time) bool
}

// Store is the minimal durable backend used by StoreGate.
type Store interface {
	// RecordEvent inserts the event id if unseen within the window and
	// reports whether it was newly recorded.
	RecordEvent(eventID string, at time.Time, retention time.Duration) (bool, error)
	// SweepEvents removes dedup records older than the cutoff.
	SweepEvents(cutoff time.Time) error
}

// MemoryGate is an in-process gate backed by a mutex-guarded map of
// eventID to first-seen time. Check-then-insert is atomic across callers;
// downstream processing is not serialized here.
type MemoryGate struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	lastSweep time.Time
	done      chan struct{}
	closeOnce sync.Once
}

var _ Gate = (*MemoryGate)(nil)

// Option configures a MemoryGate.
type Option func(*MemoryGate)

// WithRetention overrides the default retention window.
func WithRetention(d time.Duration) Option {
	return func(g *MemoryGate) {
		if d > 0 {
			g.retention = d
		}
	}
}

// NewMemoryGate creates a gate with a background sweep goroutine. Call Close
// to stop the sweeper.
func NewMemoryGate(opts ...Option) *MemoryGate {
	g := &MemoryGate{
		seen:      make(map[string]time.Time),
		retention: DefaultRetention,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	go g.sweepLoop()
	return g
}

// Admit implements Gate.
func (g *MemoryGate) Admit(eventID string, at time.Time) bool {
	if eventID == "" {
		slog.Debug("dedup: event without id, admitting")
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Opportunistic sweep so a stalled ticker cannot let the map grow
	// unbounded. Bounded by retention so it stays cheap on hot paths.
	if at.Sub(g.lastSweep) > g.retention {
		g.sweepLocked(at)
	}

	if first, ok := g.seen[eventID]; ok && at.Sub(first) < g.retention {
		slog.Debug("dedup: duplicate event suppressed", "event_id", eventID, "first_seen", first)
		return false
	}
	g.seen[eventID] = at
	return true
}

// Len returns the number of retained entries, for tests and diagnostics.
func (g *MemoryGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Close stops the background sweeper.
func (g *MemoryGate) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

func (g *MemoryGate) sweepLoop() {
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			g.mu.Lock()
			g.sweepLocked(now)
			g.mu.Unlock()
		case <-g.done:
			return
		}
	}
}

// sweepLocked removes expired entries. Caller holds g.mu.
func (g *MemoryGate) sweepLocked(now time.Time) {
	removed := 0
	for id, first := range g.seen {
		if now.Sub(first) >= g.retention {
			delete(g.seen, id)
			removed++
		}
	}
	g.lastSweep = now
	if removed > 0 {
		slog.Debug("dedup: sweep removed expired entries", "removed", removed, "remaining", len(g.seen))
	}
}

// StoreGate is a durable gate backed by a Store, for deployments with more
// than one process in front of the same channel number.
type StoreGate struct {
	store     Store
	retention time.Duration
}

var _ Gate = (*StoreGate)(nil)

// NewStoreGate creates a gate backed by the given store.
func NewStoreGate(store Store, retention time.Duration) *StoreGate {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &StoreGate{store: store, retention: retention}
}

// Admit implements Gate. Backend errors fail open.
func (g *StoreGate) Admit(eventID string, at time.Time) bool {
	if eventID == "" {
		return true
	}
	fresh, err := g.store.RecordEvent(eventID, at, g.retention)
	if err != nil {
		slog.Warn("dedup: store error, failing open", "error", err, "event_id", eventID)
		return true
	}
	if !fresh {
		slog.Debug("dedup: duplicate event suppressed", "event_id", eventID)
	}
	return fresh
}

// Sweep removes expired records; intended to be called from a scheduler.
func (g *StoreGate) Sweep(now time.Time) {
	if err := g.store.SweepEvents(now.Add(-g.retention)); err != nil {
		slog.Warn("dedup: sweep failed", "error", err)
	}
}
