// Package store provides storage backends for ZapNotícias.
//
// This file implements an SQLite-backed store for contacts and dedup records.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zapnoticias/zapnoticias/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const sqliteContactColumns = `id, phone_number, name, state, data, interests, profile, tone, plan, is_active, preferred_times, version, created_at, updated_at`

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetContact(id string) (*models.Contact, error) {
	return s.queryContact(`SELECT `+sqliteContactColumns+` FROM contacts WHERE id = ?`, id)
}

func (s *SQLiteStore) GetContactByPhone(phone string) (*models.Contact, error) {
	return s.queryContact(`SELECT `+sqliteContactColumns+` FROM contacts WHERE phone_number = ?`, phone)
}

func (s *SQLiteStore) queryContact(query, arg string) (*models.Contact, error) {
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
		slog.Error("SQLiteStore contact query failed", "error", err)
		return nil, fmt.Errorf("failed to query contact: %w", err)
	}
	if err := decodeContact(row, &c); err != nil {
		slog.Error("SQLiteStore contact decode failed", "error", err, "id", row.ID)
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) CreateContact(c *models.Contact) error {
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
	_, err = s.db.Exec(`INSERT INTO contacts (`+sqliteContactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.PhoneNumber, row.Name, row.State, row.Data, row.Interests,
		row.Profile, row.Tone, row.Plan, row.IsActive, row.PreferredTimes,
		row.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateContact failed", "error", err, "phone", c.PhoneNumber)
		return fmt.Errorf("failed to insert contact for %s: %w", c.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore CreateContact succeeded", "id", c.ID, "phone", c.PhoneNumber)
	return nil
}

// SaveContact updates the contact only when the stored version matches.
// A lost race surfaces as models.ErrStaleContact so the caller can reload
// and retry.
func (s *SQLiteStore) SaveContact(c *models.Contact) error {
	row, err := encodeContact(c)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE contacts
		SET phone_number = ?, name = ?, state = ?, data = ?, interests = ?,
		    profile = ?, tone = ?, plan = ?, is_active = ?, preferred_times = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		row.PhoneNumber, row.Name, row.State, row.Data, row.Interests,
		row.Profile, row.Tone, row.Plan, row.IsActive, row.PreferredTimes,
		now, row.ID, row.Version)
	if err != nil {
		slog.Error("SQLiteStore SaveContact failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to update contact %s: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for contact %s: %w", c.ID, err)
	}
	if affected == 0 {
		var exists int
		if err := s.db.QueryRow(`SELECT 1 FROM contacts WHERE id = ?`, c.ID).Scan(&exists); err == sql.ErrNoRows {
			return models.ErrContactNotFound
		}
		slog.Debug("SQLiteStore SaveContact version mismatch", "id", c.ID, "given", c.Version)
		return models.ErrStaleContact
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ListActiveContacts() ([]models.Contact, error) {
	rows, err := s.db.Query(`SELECT ` + sqliteContactColumns + ` FROM contacts WHERE is_active = 1`)
	if err != nil {
		slog.Error("SQLiteStore ListActiveContacts query failed", "error", err)
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
			slog.Error("SQLiteStore ListActiveContacts scan failed", "error", err)
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
	slog.Debug("SQLiteStore ListActiveContacts succeeded", "count", len(contacts))
	return contacts, nil
}

// RecordEvent inserts the event id, or refreshes it when the previous
// sighting has already expired. One statement keeps check-then-insert atomic
// across processes.
func (s *SQLiteStore) RecordEvent(eventID string, at time.Time, retention time.Duration) (bool, error) {
	cutoff := at.Add(-retention)
	res, err := s.db.Exec(`INSERT INTO inbound_events (event_id, first_seen) VALUES (?, ?)
		ON CONFLICT(event_id) DO UPDATE SET first_seen = excluded.first_seen
		WHERE inbound_events.first_seen <= ?`,
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

func (s *SQLiteStore) SweepEvents(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM inbound_events WHERE first_seen < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep events: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
