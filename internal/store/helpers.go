package store

import (
	"encoding/json"
	"fmt"

	"github.com/zapnoticias/zapnoticias/internal/models"
)

// contactRow is the flat SQL representation of a contact. JSON columns hold
// the onboarding data and the string-slice fields.
type contactRow struct {
	ID             string
	PhoneNumber    string
	Name           string
	State          string
	Data           string
	Interests      string
	Profile        string
	Tone           string
	Plan           string
	IsActive       bool
	PreferredTimes string
	Version        int64
}

func encodeContact(c *models.Contact) (contactRow, error) {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return contactRow{}, fmt.Errorf("failed to marshal onboarding data: %w", err)
	}
	interests, err := json.Marshal(c.Interests)
	if err != nil {
		return contactRow{}, fmt.Errorf("failed to marshal interests: %w", err)
	}
	times, err := json.Marshal(c.PreferredTimes)
	if err != nil {
		return contactRow{}, fmt.Errorf("failed to marshal preferred times: %w", err)
	}
	return contactRow{
		ID:             c.ID,
		PhoneNumber:    c.PhoneNumber,
		Name:           c.Name,
		State:          string(c.State),
		Data:           string(data),
		Interests:      string(interests),
		Profile:        c.Profile,
		Tone:           c.Tone,
		Plan:           string(c.Plan),
		IsActive:       c.IsActive,
		PreferredTimes: string(times),
		Version:        c.Version,
	}, nil
}

func decodeContact(row contactRow, c *models.Contact) error {
	c.ID = row.ID
	c.PhoneNumber = row.PhoneNumber
	c.Name = row.Name
	c.State = models.OnboardingState(row.State)
	c.Profile = row.Profile
	c.Tone = row.Tone
	c.Plan = models.Plan(row.Plan)
	c.IsActive = row.IsActive
	c.Version = row.Version
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &c.Data); err != nil {
			return fmt.Errorf("failed to unmarshal onboarding data: %w", err)
		}
	}
	if row.Interests != "" {
		if err := json.Unmarshal([]byte(row.Interests), &c.Interests); err != nil {
			return fmt.Errorf("failed to unmarshal interests: %w", err)
		}
	}
	if row.PreferredTimes != "" {
		if err := json.Unmarshal([]byte(row.PreferredTimes), &c.PreferredTimes); err != nil {
			return fmt.Errorf("failed to unmarshal preferred times: %w", err)
		}
	}
	return nil
}
