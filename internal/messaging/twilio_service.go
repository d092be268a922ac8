package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/zapnoticias/zapnoticias/internal/models"
)

// TwilioSender is the outbound surface of the Twilio channel (real client or mock).
type TwilioSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// TwilioClient wraps the Twilio REST API for WhatsApp.
type TwilioClient struct {
	client    *twilio.RestClient
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
}

// TwilioOpts holds configuration options for the Twilio client.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// TwilioOption defines a configuration option for the Twilio client.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// NewTwilioClient creates a Twilio REST client, falling back to environment
// variables for unset options.
func NewTwilioClient(opts ...TwilioOption) (*TwilioClient, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioClient{client: client, fromWhats: cfg.FromWhats}, nil
}

// SendMessage sends a WhatsApp message using the Twilio API.
func (c *TwilioClient) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// TwilioService implements Service using the Twilio API. Twilio's Go SDK has
// no interactive button support, so choice prompts degrade to numbered text.
type TwilioService struct {
	client    TwilioSender
	responses chan models.InboundEvent
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client TwilioSender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; inbound messages arrive via the webhook handler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()
	return nil
}

// SendText sends a plain text message via Twilio.
func (s *TwilioService) SendText(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendText validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// SendChoicePrompt renders the prompt as numbered text. Contacts reply by
// typing the option word; the dialogue vocabulary matches it.
func (s *TwilioService) SendChoicePrompt(ctx context.Context, to string, prompt models.ChoicePrompt) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	if err := prompt.Validate(); err != nil {
		slog.Error("TwilioService SendChoicePrompt invalid prompt", "error", err, "to", to)
		return err
	}
	return s.SendText(ctx, to, renderChoicePromptAsText(prompt))
}

// renderChoicePromptAsText flattens a choice prompt into a numbered message.
func renderChoicePromptAsText(prompt models.ChoicePrompt) string {
	var b strings.Builder
	b.WriteString(prompt.Body)
	b.WriteString("\n")
	if len(prompt.Buttons) > 0 {
		for i, btn := range prompt.Buttons {
			fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
		}
	} else {
		if prompt.ListTitle != "" {
			b.WriteString("\n" + prompt.ListTitle)
		}
		for i, row := range prompt.Rows {
			fmt.Fprintf(&b, "\n%d. %s", i+1, row.Title)
		}
	}
	return b.String()
}

// Responses returns the channel of inbound contact events.
func (s *TwilioService) Responses() <-chan models.InboundEvent {
	return s.responses
}

// WebhookHandler handles inbound Twilio webhook requests. It parses the form
// payload and emits an InboundEvent with the Twilio message SID as event id.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	sid := r.FormValue("MessageSid")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	from = strings.TrimPrefix(from, "whatsapp:")

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "sid", sid)
	s.safeEmit(models.InboundEvent{
		EventID: sid,
		From:    from,
		Body:    body,
		Kind:    models.EventKindText,
		Time:    time.Now(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *TwilioService) safeEmit(event models.InboundEvent) {
	if s.isStopped() {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", event.From)
		return
	}
	select {
	case s.responses <- event:
		slog.Debug("TwilioService emitted inbound event", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping event", "from", event.From)
	}
}
