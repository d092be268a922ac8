// This file implements a PostgreSQL-backed store for contacts and dedup records.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/zapnoticias/zapnoticias/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

const postgresContactColumns = `id, phone_number, name, state, data, interests, profile, tone, plan, is_active, preferred_times, version, created_at, updated_at`

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetContact(id string) (*models.Contact, error) {
	return s.queryContact(`SELECT `+postgresContactColumns+` FROM contacts WHERE id = $1`, id)
}

func (s *PostgresStore) GetContactByPhone(phone string) (*models.Contact, error) {
	return s.queryContact(`SELECT `+postgresContactColumns+` FROM contacts WHERE phone_number = $1`, phone)
}

func (s *PostgresStore) queryContact(query, arg string) (*models.Contact, error) {
	var row contactRow
	var c models.Contact
	err := s.db.QueryRow(query, arg).Scan(
		&row.ID, &row.PhoneNumber, &row.Name, &row.State, &row.Data, &row.Interests,
		&row.Profile, &row.Tone, &row.Plan, &row.IsActive, &row.PreferredTimes,
		&row.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore contact query failed", "error", err)
		return nil, fmt.Errorf("failed to query contact: %w", err)
	}
	if err := decodeContact(row, &c); err != nil {
		slog.Error("PostgresStore contact decode failed", "error", err, "id", row.ID)
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateContact(c *models.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now

	row, err := encodeContact(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO contacts (`+postgresContactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		row.ID, row.PhoneNumber, row.Name, row.State, row.Data, row.Interests,
		row.Profile, row.Tone, row.Plan, row.IsActive, row.PreferredTimes,
		row.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateContact failed", "error", err, "phone", c.PhoneNumber)
		return fmt.Errorf("failed to insert contact for %s: %w", c.PhoneNumber, err)
	}
	slog.Debug("PostgresStore CreateContact succeeded", "id", c.ID, "phone", c.PhoneNumber)
	return nil
}

func (s *PostgresStore) SaveContact(c *models.Contact) error {
	row, err := encodeContact(c)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE contacts
		SET phone_number = $1, name = $2, state = $3, data = $4, interests = $5,
		    profile = $6, tone = $7, plan = $8, is_active = $9, preferred_times = $10,
		    version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		row.PhoneNumber, row.Name, row.State, row.Data, row.Interests,
		row.Profile, row.Tone, row.Plan, row.IsActive, row.PreferredTimes,
		now, row.ID, row.Version)
	if err != nil {
		slog.Error("PostgresStore SaveContact failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to update contact %s: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for contact %s: %w", c.ID, err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRow(`SELECT 1 FROM contacts WHERE id = $1`, c.ID).Scan(&exists); err == sql.ErrNoRows {
			return models.ErrContactNotFound
		}
		slog.Debug("PostgresStore SaveContact version mismatch", "id", c.ID, "given", c.Version)
		return models.ErrStaleContact
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListActiveContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(`SELECT ` + postgresContactColumns + ` FROM contacts WHERE is_active`)
	if err != nil {
		slog.Error("PostgresStore ListActiveContacts query failed", "error", err)
		return nil, fmt.Errorf("failed to query active contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var row contactRow
		var c models.Contact
		if err := rows.Scan(
			&row.ID, &row.PhoneNumber, &row.Name, &row.State, &row.Data, &row.Interests,
			&row.Profile, &row.Tone, &row.Plan, &row.IsActive, &row.PreferredTimes,
			&row.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			slog.Error("PostgresStore ListActiveContacts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		if err := decodeContact(row, &c); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact rows: %w", err)
	}
	slog.Debug("PostgresStore ListActiveContacts succeeded", "count", len(contacts))
	return contacts, nil
}

func (s *PostgresStore) RecordEvent(eventID string, at time.Time, retention time.Duration) (bool, error) {
	cutoff := at.Add(-retention)
	res, err := s.db.Exec(`INSERT INTO inbound_events (event_id, first_seen) VALUES ($1, $2)
		ON CONFLICT (event_id) DO UPDATE SET first_seen = EXCLUDED.first_seen
		WHERE inbound_events.first_seen <= $3`,
		eventID, at, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to record event %s: %w", eventID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read event insert result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SweepEvents(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM inbound_events WHERE first_seen < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep events: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
