package messaging

import (
	"context"
	"sync"

	"github.com/zapnoticias/zapnoticias/internal/models"
)

// SentText records one outbound text message captured by the mock.
type SentText struct {
	To   string
	Body string
}

// SentPrompt records one outbound choice prompt captured by the mock.
type SentPrompt struct {
	To     string
	Prompt models.ChoicePrompt
}

// MockService is an in-memory Service for tests. It records everything sent
// and lets tests inject inbound events.
type MockService struct {
	mu        sync.Mutex
	Texts     []SentText
	Prompts   []SentPrompt
	TextErr   error // returned by SendText when set
	PromptErr error // returned by SendChoicePrompt when set
	responses chan models.InboundEvent
}

var _ Service = (*MockService)(nil)

// NewMockService creates an empty mock messaging service.
func NewMockService() *MockService {
	return &MockService{
		responses: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *MockService) SendText(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TextErr != nil {
		return m.TextErr
	}
	m.Texts = append(m.Texts, SentText{To: to, Body: body})
	return nil
}

func (m *MockService) SendChoicePrompt(ctx context.Context, to string, prompt models.ChoicePrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PromptErr != nil {
		return m.PromptErr
	}
	if err := prompt.Validate(); err != nil {
		return err
	}
	m.Prompts = append(m.Prompts, SentPrompt{To: to, Prompt: prompt})
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }
func (m *MockService) Stop() error                     { return nil }

func (m *MockService) Responses() <-chan models.InboundEvent {
	return m.responses
}

// Inject delivers an inbound event as if it came from the channel.
func (m *MockService) Inject(event models.InboundEvent) {
	m.responses <- event
}

// SentTexts returns a snapshot of the recorded text messages.
func (m *MockService) SentTexts() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentText(nil), m.Texts...)
}

// SentPrompts returns a snapshot of the recorded choice prompts.
func (m *MockService) SentPrompts() []SentPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentPrompt(nil), m.Prompts...)
}
