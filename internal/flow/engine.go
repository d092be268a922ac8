package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/dedup"
	"github.com/zapnoticias/zapnoticias/internal/messaging"
	"github.com/zapnoticias/zapnoticias/internal/models"
	"github.com/zapnoticias/zapnoticias/internal/payments"
	"github.com/zapnoticias/zapnoticias/internal/store"
)

// Timeouts for collaborator calls. A timeout fails that one call, not the
// whole event.
const (
	DefaultSendTimeout      = 30 * time.Second
	DefaultGeneratorTimeout = 45 * time.Second
	DefaultCheckoutTimeout  = 30 * time.Second
)

// Generator produces the demo digest, deep-dive analyses, and assistant
// answers. Implementations may fail; the engine maps failures to scripted
// fallback copy.
type Generator interface {
	GenerateDemoDigest(ctx context.Context, interests []string, tone, profile string) (string, error)
	GenerateDeepDive(ctx context.Context, interests []string) (string, error)
	Answer(ctx context.Context, contactID, text string) (string, error)
}

// CheckoutIssuer creates payment links for a plan choice.
type CheckoutIssuer interface {
	CreateCheckout(ctx context.Context, contact *models.Contact, plan models.Plan) (string, error)
}

// Engine drives the onboarding conversation: it loads the contact fresh for
// each event, decides the transition, persists the new state, and then
// executes the decided effects. All collaborator failures are contained
// here; nothing propagates back to the webhook.
type Engine struct {
	store     store.Store
	messenger messaging.Service
	generator Generator
	checkout  CheckoutIssuer
	locks     *contactLocks

	sendTimeout      time.Duration
	generatorTimeout time.Duration
	checkoutTimeout  time.Duration
	pauses           bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSendTimeout overrides the outbound send timeout.
func WithSendTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.sendTimeout = d }
}

// WithGeneratorTimeout overrides the content generator timeout.
func WithGeneratorTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.generatorTimeout = d }
}

// WithoutPauses disables the staged-reveal pauses, for tests.
func WithoutPauses() EngineOption {
	return func(e *Engine) { e.pauses = false }
}

// NewEngine creates an Engine with the given collaborators.
func NewEngine(st store.Store, messenger messaging.Service, generator Generator, checkout CheckoutIssuer, opts ...EngineOption) *Engine {
	e := &Engine{
		store:            st,
		messenger:        messenger,
		generator:        generator,
		checkout:         checkout,
		locks:            newContactLocks(),
		sendTimeout:      DefaultSendTimeout,
		generatorTimeout: DefaultGeneratorTimeout,
		checkoutTimeout:  DefaultCheckoutTimeout,
		pauses:           true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run consumes inbound events from the messenger, admits them through the
// gate, and handles each admitted event in its own goroutine. Returns when
// the context is cancelled or the responses channel closes.
func (e *Engine) Run(ctx context.Context, gate dedup.Gate) {
	slog.Info("Engine Run started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine Run stopping", "reason", ctx.Err())
			return
		case event, ok := <-e.messenger.Responses():
			if !ok {
				slog.Info("Engine Run stopping: responses channel closed")
				return
			}
			if !gate.Admit(event.EventID, event.Time) {
				continue
			}
			go func(ev models.InboundEvent) {
				if err := e.HandleMessage(ctx, ev.From, ev.Body); err != nil {
					slog.Error("Engine HandleMessage failed", "error", err, "from", ev.From)
				}
			}(event)
		}
	}
}

// HandleMessage processes one admitted inbound message. Events for the same
// contact are serialized; events for distinct contacts run concurrently.
// The returned error reports only storage-level failures; collaborator
// failures are already mapped to fallback messages.
func (e *Engine) HandleMessage(ctx context.Context, from, body string) error {
	phone, err := e.messenger.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", from, err)
	}

	unlock := e.locks.Lock(phone)
	defer unlock()

	// Load fresh inside the lock; a previous event for this contact may have
	// just advanced the state.
	contact, err := e.loadOrCreateContact(phone)
	if err != nil {
		return err
	}
	slog.Debug("Engine handling message", "phone", phone, "state", contact.State)

	effects := Decide(contact, body)

	// A checkout decides the transition by its outcome, so it runs before
	// the persist; everything else persists first and sends after, so a
	// crash mid-send is retryable without losing the transition.
	if co, ok := findCheckout(effects); ok {
		return e.handleCheckout(ctx, contact, co.Plan)
	}

	if err := e.saveContact(contact); err != nil {
		return err
	}
	e.runEffects(ctx, contact, effects)
	return nil
}

// ConfirmPayment applies an out-of-band payment confirmation: activates the
// subscription, promotes the contact to active, and sends the celebration
// sequence plus an immediate first digest.
func (e *Engine) ConfirmPayment(ctx context.Context, phone string, plan models.Plan) error {
	phone, err := e.messenger.ValidateAndCanonicalizeRecipient(phone)
	if err != nil {
		return fmt.Errorf("invalid phone %q: %w", phone, err)
	}

	unlock := e.locks.Lock(phone)
	defer unlock()

	contact, err := e.loadOrCreateContact(phone)
	if err != nil {
		return err
	}
	if !models.IsValidPlan(plan) {
		plan = models.PlanGeneralista
	}

	contact.IsActive = true
	contact.Plan = plan
	contact.State = models.StateActive
	contact.Data = models.OnboardingData{}
	if err := e.saveContact(contact); err != nil {
		return err
	}
	slog.Info("Engine payment confirmed", "phone", phone, "plan", plan)

	for i, body := range WelcomeCelebrationMessages(plan) {
		if i > 0 {
			e.pause(ctx, time.Second)
		}
		e.sendText(ctx, contact, body)
	}
	e.pause(ctx, 2*time.Second)
	e.runGenerateDemo(ctx, contact)
	return nil
}

// CancelSubscription applies a subscription cancellation: deactivates the
// contact and moves it back to the plan-choice stage so it can resubscribe.
func (e *Engine) CancelSubscription(ctx context.Context, phone string) error {
	phone, err := e.messenger.ValidateAndCanonicalizeRecipient(phone)
	if err != nil {
		return fmt.Errorf("invalid phone %q: %w", phone, err)
	}

	unlock := e.locks.Lock(phone)
	defer unlock()

	contact, err := e.store.GetContactByPhone(phone)
	if err != nil {
		return fmt.Errorf("failed to load contact %s: %w", phone, err)
	}
	if contact == nil {
		slog.Warn("Engine cancellation for unknown contact", "phone", phone)
		return nil
	}

	contact.IsActive = false
	contact.State = models.StateDemoSent
	contact.Data = models.OnboardingData{}
	if err := e.saveContact(contact); err != nil {
		return err
	}
	slog.Info("Engine subscription canceled", "phone", phone)

	e.sendText(ctx, contact, msgSubscriptionCanceled)
	e.sendPrompt(ctx, contact, PlanPrompt())
	return nil
}

func (e *Engine) loadOrCreateContact(phone string) (*models.Contact, error) {
	contact, err := e.store.GetContactByPhone(phone)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", phone, err)
	}
	if contact != nil {
		return contact, nil
	}

	contact = &models.Contact{
		PhoneNumber: phone,
		Name:        "Lead",
		State:       models.StateNewLead,
		Plan:        models.PlanGeneralista,
		Interests:   []string{},
	}
	if err := e.store.CreateContact(contact); err != nil {
		return nil, fmt.Errorf("failed to create contact %s: %w", phone, err)
	}
	slog.Info("Engine created new lead", "phone", phone)
	return contact, nil
}

// saveContact persists the contact. A stale version means a concurrent
// writer won; the decided transition is discarded rather than overwriting
// the newer record.
func (e *Engine) saveContact(contact *models.Contact) error {
	err := e.store.SaveContact(contact)
	if errors.Is(err, models.ErrStaleContact) {
		slog.Warn("Engine discarding stale transition", "phone", contact.PhoneNumber, "state", contact.State)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contact.PhoneNumber, err)
	}
	return nil
}

func findCheckout(effects []Effect) (CreateCheckout, bool) {
	for _, eff := range effects {
		if co, ok := eff.(CreateCheckout); ok {
			return co, true
		}
	}
	return CreateCheckout{}, false
}

// handleCheckout issues the payment link. Only a successful link creation
// advances the contact to awaiting payment; configuration problems and
// provider errors keep the state and send fallback copy.
func (e *Engine) handleCheckout(ctx context.Context, contact *models.Contact, plan models.Plan) error {
	coCtx, cancel := context.WithTimeout(ctx, e.checkoutTimeout)
	url, err := e.checkout.CreateCheckout(coCtx, contact, plan)
	cancel()
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			slog.Warn("Engine checkout not configured", "plan", plan)
			e.sendText(ctx, contact, msgPaymentUnavailable)
		} else {
			slog.Error("Engine checkout failed", "error", err, "phone", contact.PhoneNumber, "plan", plan)
			e.sendText(ctx, contact, msgPaymentError)
		}
		return nil
	}

	contact.Plan = plan
	contact.State = models.StateAwaitingPayment
	if err := e.saveContact(contact); err != nil {
		return err
	}
	e.sendText(ctx, contact, PaymentLinkMessage(plan, url))
	return nil
}

// runEffects interprets the decided effects in order.
func (e *Engine) runEffects(ctx context.Context, contact *models.Contact, effects []Effect) {
	for _, eff := range effects {
		switch v := eff.(type) {
		case SendText:
			e.sendText(ctx, contact, v.Body)
		case SendPrompt:
			e.sendPrompt(ctx, contact, v.Prompt)
		case Pause:
			e.pause(ctx, v.For)
		case GenerateDemo:
			e.runGenerateDemo(ctx, contact)
		case GenerateDeepDive:
			e.runGenerateDeepDive(ctx, contact)
		case AskAssistant:
			e.runAssistant(ctx, contact, v.Text)
		case CreateCheckout:
			// Handled before persistence; never reaches the interpreter.
		}
	}
}

// sendText delivers a text message; failures are logged and non-fatal.
func (e *Engine) sendText(ctx context.Context, contact *models.Contact, body string) {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.messenger.SendText(sendCtx, contact.PhoneNumber, body); err != nil {
		slog.Error("Engine send text failed", "error", err, "phone", contact.PhoneNumber)
	}
}

func (e *Engine) sendPrompt(ctx context.Context, contact *models.Contact, prompt models.ChoicePrompt) {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.messenger.SendChoicePrompt(sendCtx, contact.PhoneNumber, prompt); err != nil {
		slog.Error("Engine send prompt failed", "error", err, "phone", contact.PhoneNumber)
	}
}

func (e *Engine) pause(ctx context.Context, d time.Duration) {
	if !e.pauses {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (e *Engine) runGenerateDemo(ctx context.Context, contact *models.Contact) {
	genCtx, cancel := context.WithTimeout(ctx, e.generatorTimeout)
	digest, err := e.generator.GenerateDemoDigest(genCtx, contact.Interests, contact.Tone, contact.Profile)
	cancel()
	if err != nil {
		slog.Error("Engine demo generation failed", "error", err, "phone", contact.PhoneNumber)
		e.sendText(ctx, contact, msgDemoFallback)
		return
	}
	e.sendText(ctx, contact, digest)
}

func (e *Engine) runGenerateDeepDive(ctx context.Context, contact *models.Contact) {
	genCtx, cancel := context.WithTimeout(ctx, e.generatorTimeout)
	analysis, err := e.generator.GenerateDeepDive(genCtx, contact.Interests)
	cancel()
	if err != nil {
		slog.Error("Engine deep dive generation failed", "error", err, "phone", contact.PhoneNumber)
		e.sendText(ctx, contact, msgDeepDiveFallback)
		return
	}
	e.sendText(ctx, contact, analysis)
}

func (e *Engine) runAssistant(ctx context.Context, contact *models.Contact, text string) {
	genCtx, cancel := context.WithTimeout(ctx, e.generatorTimeout)
	answer, err := e.generator.Answer(genCtx, contact.ID, text)
	cancel()
	if err != nil {
		slog.Error("Engine assistant failed", "error", err, "phone", contact.PhoneNumber)
		e.sendText(ctx, contact, msgAssistantFallback)
		return
	}
	e.sendText(ctx, contact, answer)
}
