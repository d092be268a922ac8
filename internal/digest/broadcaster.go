// Package digest delivers the daily news digest to active subscribers at
// their preferred times.
package digest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/messaging"
	"github.com/zapnoticias/zapnoticias/internal/models"
	"github.com/zapnoticias/zapnoticias/internal/store"
)

// DefaultTimes is the delivery schedule for subscribers who never configured
// preferred times.
var DefaultTimes = []string{"07:00", "19:00"}

// Generator produces the digest content for one subscriber.
type Generator interface {
	GenerateDemoDigest(ctx context.Context, interests []string, tone, profile string) (string, error)
}

// Broadcaster sends digests on a per-minute tick. Each contact receives at
// most its plan's daily message cap; the counters reset at midnight.
type Broadcaster struct {
	store     store.Store
	messenger messaging.Service
	generator Generator

	mu        sync.Mutex
	sentToday map[string]int
	day       int
}

// NewBroadcaster creates a digest broadcaster.
func NewBroadcaster(st store.Store, messenger messaging.Service, generator Generator) *Broadcaster {
	return &Broadcaster{
		store:     st,
		messenger: messenger,
		generator: generator,
		sentToday: make(map[string]int),
	}
}

// Tick dispatches digests to every active contact whose preferred time
// matches the current minute. Intended to run from a "* * * * *" cron job.
func (b *Broadcaster) Tick(ctx context.Context, now time.Time) {
	slot := now.Format("15:04")

	contacts, err := b.store.ListActiveContacts()
	if err != nil {
		slog.Error("Broadcaster failed to list contacts", "error", err)
		return
	}

	for _, contact := range contacts {
		if !b.dueAt(contact, slot) {
			continue
		}
		if !b.underCap(contact, now) {
			slog.Debug("Broadcaster daily cap reached", "phone", contact.PhoneNumber, "plan", contact.Plan)
			continue
		}
		go b.deliver(ctx, contact)
	}
}

func (b *Broadcaster) dueAt(contact models.Contact, slot string) bool {
	times := contact.PreferredTimes
	if len(times) == 0 {
		times = DefaultTimes
	}
	for _, t := range times {
		if t == slot {
			return true
		}
	}
	return false
}

// underCap checks and consumes one send from the contact's daily budget.
func (b *Broadcaster) underCap(contact models.Contact, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if day := now.YearDay(); day != b.day {
		b.day = day
		b.sentToday = make(map[string]int)
	}
	if b.sentToday[contact.ID] >= contact.Plan.DailyMessageLimit() {
		return false
	}
	b.sentToday[contact.ID]++
	return true
}

func (b *Broadcaster) deliver(ctx context.Context, contact models.Contact) {
	genCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	body, err := b.generator.GenerateDemoDigest(genCtx, contact.Interests, contact.Tone, contact.Profile)
	cancel()
	if err != nil {
		slog.Error("Broadcaster digest generation failed", "error", err, "phone", contact.PhoneNumber)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.messenger.SendText(sendCtx, contact.PhoneNumber, body); err != nil {
		slog.Error("Broadcaster send failed", "error", err, "phone", contact.PhoneNumber)
		return
	}
	slog.Info("Broadcaster digest delivered", "phone", contact.PhoneNumber, "plan", contact.Plan)
}
