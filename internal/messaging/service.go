// Package messaging defines the pluggable channel abstraction used by the
// dialogue engine: outbound text and choice prompts, and a channel of
// inbound events.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each channel implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendChoicePrompt sends a structured prompt: quick-reply buttons or a
	// single-section list. The prompt must pass models.ChoicePrompt.Validate.
	SendChoicePrompt(ctx context.Context, to string, prompt models.ChoicePrompt) error

	// Start begins any background processing (e.g., event pumping).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of inbound events from contacts.
	Responses() <-chan models.InboundEvent
}

// canonicalizePhone removes non-digits and validates the result. Shared by
// the channel implementations, which all address contacts by phone number.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found in recipient " + recipient)
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: " + canonical + " is too short (minimum 6 digits required)")
	}
	return canonical, nil
}
