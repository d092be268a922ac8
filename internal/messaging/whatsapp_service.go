package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/models"
	"github.com/zapnoticias/zapnoticias/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // access to underlying client for event handling
	responses chan models.InboundEvent
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		responses: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}

	// Only a full client can register event handlers; a mock cannot.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by stripping non-digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	// Grace period so in-flight emitters observe the stopped flag first.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	slog.Info("WhatsAppService stopped")
	return nil
}

// SendText sends a plain text message.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendText validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// SendChoicePrompt sends quick-reply buttons or a single-section list.
func (s *WhatsAppService) SendChoicePrompt(ctx context.Context, to string, prompt models.ChoicePrompt) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	if err := prompt.Validate(); err != nil {
		slog.Error("WhatsAppService SendChoicePrompt invalid prompt", "error", err, "to", to)
		return err
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendChoicePrompt validation error", "error", err, "to", to)
		return err
	}

	if len(prompt.Buttons) > 0 {
		err = s.client.SendButtons(ctx, canonicalTo, prompt.Body, prompt.Buttons)
	} else {
		err = s.client.SendList(ctx, canonicalTo, prompt.Body, prompt.ListButton, prompt.ListTitle, prompt.Rows)
	}
	if err != nil {
		slog.Error("WhatsAppService SendChoicePrompt error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhatsAppService choice prompt sent", "to", canonicalTo, "buttons", len(prompt.Buttons), "rows", len(prompt.Rows))
	return nil
}

// Responses returns the channel of inbound contact events.
func (s *WhatsAppService) Responses() <-chan models.InboundEvent {
	return s.responses
}

// handleEvents registers the whatsmeow event handler and pumps messages into
// the responses channel until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Receipts, presence and connection events are not consumed.
		}
	})
	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts a whatsmeow message event into an
// InboundEvent. Button taps and list selections carry the choice id in the
// body; everything else is free text. Non-text media is skipped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	var body string
	kind := models.EventKindText
	switch {
	case evt.Message.GetButtonsResponseMessage() != nil:
		body = evt.Message.GetButtonsResponseMessage().GetSelectedButtonID()
		kind = models.EventKindButtonReply
	case evt.Message.GetListResponseMessage() != nil:
		body = evt.Message.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
		kind = models.EventKindButtonReply
	case evt.Message.GetConversation() != "":
		body = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		body = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	event := models.InboundEvent{
		EventID: evt.Info.ID,
		From:    fromNumber,
		Body:    body,
		Kind:    kind,
		Time:    evt.Info.Timestamp,
	}
	s.safeEmit(event)
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *WhatsAppService) safeEmit(event models.InboundEvent) {
	if s.isStopped() {
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "from", event.From)
		return
	}
	select {
	case s.responses <- event:
		slog.Debug("WhatsAppService inbound event forwarded", "from", event.From, "kind", event.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping event", "from", event.From, "timeout", DefaultChannelTimeout)
	}
}
