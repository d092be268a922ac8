// Package store provides storage backends for contact records and inbound
// event deduplication.
//
// It includes an in-memory store for tests, an SQLite-backed store for
// single-node deployments, and a PostgreSQL-backed store.
package store

import (
	"strings"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/models"
)

// Store is the persistence interface used by the dialogue engine and the
// broadcast scheduler. Contact reads and writes are atomic per record;
// no multi-record transactions are required.
type Store interface {
	// GetContact returns the contact by its id, or (nil, nil) when no such
	// contact exists.
	GetContact(id string) (*models.Contact, error)

	// GetContactByPhone returns the contact for a channel identifier, or
	// (nil, nil) when no such contact exists.
	GetContactByPhone(phone string) (*models.Contact, error)

	// CreateContact inserts a new contact, assigning ID and Version.
	CreateContact(c *models.Contact) error

	// SaveContact writes the contact if its Version matches the stored
	// record, then increments the version. Returns models.ErrStaleContact
	// when another writer got there first, models.ErrContactNotFound when
	// the record does not exist.
	SaveContact(c *models.Contact) error

	// ListActiveContacts returns all contacts with an active subscription.
	ListActiveContacts() ([]models.Contact, error)

	// RecordEvent inserts an inbound event id if unseen within the
	// retention window and reports whether it was newly recorded.
	RecordEvent(eventID string, at time.Time, retention time.Duration) (bool, error)

	// SweepEvents removes dedup records first seen before the cutoff.
	SweepEvents(cutoff time.Time) error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite" so callers can
// pick a backend from a single connection-string setting.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
