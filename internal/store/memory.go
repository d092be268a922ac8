package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zapnoticias/zapnoticias/internal/models"
)

// InMemoryStore keeps contacts and dedup records in process memory. It is
// the default backend for tests and for running without a database.
type InMemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]models.Contact // keyed by contact id
	byPhone  map[string]string         // phone number -> contact id
	events   map[string]time.Time      // event id -> first seen
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contacts: make(map[string]models.Contact),
		byPhone:  make(map[string]string),
		events:   make(map[string]time.Time),
	}
}

// GetContact returns the contact by id, or (nil, nil) when absent.
func (s *InMemoryStore) GetContact(id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	copied := cloneContact(c)
	return &copied, nil
}

// GetContactByPhone returns the contact for a phone number, or (nil, nil)
// when absent.
func (s *InMemoryStore) GetContactByPhone(phone string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return nil, nil
	}
	c := cloneContact(s.contacts[id])
	return &c, nil
}

// CreateContact inserts a new contact, assigning ID, Version and timestamps.
func (s *InMemoryStore) CreateContact(c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	s.contacts[c.ID] = cloneContact(*c)
	s.byPhone[c.PhoneNumber] = c.ID
	slog.Debug("InMemoryStore CreateContact succeeded", "id", c.ID, "phone", c.PhoneNumber)
	return nil
}

// SaveContact writes the contact if the stored version matches c.Version,
// then bumps the version. Concurrent writers lose with ErrStaleContact.
func (s *InMemoryStore) SaveContact(c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.contacts[c.ID]
	if !ok {
		return models.ErrContactNotFound
	}
	if stored.Version != c.Version {
		slog.Debug("InMemoryStore SaveContact version mismatch", "id", c.ID, "stored", stored.Version, "given", c.Version)
		return models.ErrStaleContact
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	s.contacts[c.ID] = cloneContact(*c)
	s.byPhone[c.PhoneNumber] = c.ID
	return nil
}

// ListActiveContacts returns every contact with an active subscription.
func (s *InMemoryStore) ListActiveContacts() ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Contact
	for _, c := range s.contacts {
		if c.IsActive {
			out = append(out, cloneContact(c))
		}
	}
	return out, nil
}

// RecordEvent inserts the event id if unseen within the retention window.
func (s *InMemoryStore) RecordEvent(eventID string, at time.Time, retention time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if first, ok := s.events[eventID]; ok && at.Sub(first) < retention {
		return false, nil
	}
	s.events[eventID] = at
	return true, nil
}

// SweepEvents removes dedup records first seen before the cutoff.
func (s *InMemoryStore) SweepEvents(cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, first := range s.events {
		if first.Before(cutoff) {
			delete(s.events, id)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// cloneContact deep-copies slices and nested data so callers cannot mutate
// stored records through shared backing arrays.
func cloneContact(c models.Contact) models.Contact {
	c.Interests = append([]string(nil), c.Interests...)
	c.PreferredTimes = append([]string(nil), c.PreferredTimes...)
	if c.Data.Selection != nil {
		sel := *c.Data.Selection
		sel.Selected = append([]string(nil), sel.Selected...)
		c.Data.Selection = &sel
	}
	if c.Data.ScheduleEdit != nil {
		edit := *c.Data.ScheduleEdit
		edit.Times = append([]string(nil), edit.Times...)
		c.Data.ScheduleEdit = &edit
	}
	if c.Data.TopicsEdit != nil {
		edit := *c.Data.TopicsEdit
		edit.Working = append([]string(nil), edit.Working...)
		c.Data.TopicsEdit = &edit
	}
	return c
}
