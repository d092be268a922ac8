package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/dedup"
	"github.com/zapnoticias/zapnoticias/internal/genai"
	"github.com/zapnoticias/zapnoticias/internal/messaging"
	"github.com/zapnoticias/zapnoticias/internal/models"
	"github.com/zapnoticias/zapnoticias/internal/payments"
	"github.com/zapnoticias/zapnoticias/internal/store"
)

type engineHarness struct {
	engine    *Engine
	store     *store.InMemoryStore
	messenger *messaging.MockService
	generator *genai.MockGenerator
	issuer    *payments.MockIssuer
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()
	h := &engineHarness{
		store:     store.NewInMemoryStore(),
		messenger: messaging.NewMockService(),
		generator: &genai.MockGenerator{},
		issuer:    &payments.MockIssuer{},
	}
	h.engine = NewEngine(h.store, h.messenger, h.generator, h.issuer, WithoutPauses())
	return h
}

func (h *engineHarness) handle(t *testing.T, phone, body string) {
	t.Helper()
	if err := h.engine.HandleMessage(context.Background(), phone, body); err != nil {
		t.Fatalf("HandleMessage(%q, %q) failed: %v", phone, body, err)
	}
}

func (h *engineHarness) contact(t *testing.T, phone string) *models.Contact {
	t.Helper()
	c, err := h.store.GetContactByPhone(phone)
	if err != nil {
		t.Fatalf("GetContactByPhone(%q) failed: %v", phone, err)
	}
	if c == nil {
		t.Fatalf("contact %q not found", phone)
	}
	return c
}

func (h *engineHarness) lastText(t *testing.T) string {
	t.Helper()
	texts := h.messenger.SentTexts()
	if len(texts) == 0 {
		t.Fatalf("no texts sent")
	}
	return texts[len(texts)-1].Body
}

func TestEngineOnboardingFunnel(t *testing.T) {
	h := newEngineHarness(t)
	const phone = "5511999990000"

	h.handle(t, "+55 (11) 99999-0000", "oi")
	c := h.contact(t, phone)
	if c.State != models.StateSelectingInterests {
		t.Fatalf("after greeting: state = %v", c.State)
	}

	h.handle(t, phone, "tech")
	h.handle(t, phone, "finance")
	h.handle(t, phone, "Política")
	c = h.contact(t, phone)
	if c.State != models.StateSelectingProfile {
		t.Fatalf("after 3 topics: state = %v", c.State)
	}
	if len(c.Interests) != 3 {
		t.Fatalf("interests = %v", c.Interests)
	}

	h.handle(t, phone, "curioso")
	h.handle(t, phone, "casual")
	c = h.contact(t, phone)
	if c.State != models.StateDemoSent {
		t.Fatalf("after tone: state = %v", c.State)
	}
	if len(h.generator.Calls) == 0 || h.generator.Calls[0] != "demo" {
		t.Errorf("demo digest was not generated: calls = %v", h.generator.Calls)
	}

	h.handle(t, phone, "estrategista")
	c = h.contact(t, phone)
	if c.State != models.StateAwaitingPayment {
		t.Fatalf("after plan choice: state = %v", c.State)
	}
	if c.Plan != models.PlanEstrategista {
		t.Errorf("plan = %v, want %v", c.Plan, models.PlanEstrategista)
	}
	if h.issuer.Last.Plan != models.PlanEstrategista || h.issuer.Last.Phone != phone {
		t.Errorf("checkout issued for %+v", h.issuer.Last)
	}
	if !strings.Contains(h.lastText(t), "https://checkout.example/session") {
		t.Errorf("payment link not delivered: %q", h.lastText(t))
	}
}

func TestEngineCheckoutNotConfigured(t *testing.T) {
	h := newEngineHarness(t)
	h.issuer.Err = payments.ErrNotConfigured
	seedDemoContact(t, h.store, "5511888880000")

	h.handle(t, "5511888880000", "generalista")

	c := h.contact(t, "5511888880000")
	if c.State != models.StateDemoSent {
		t.Errorf("state = %v, checkout failure must not advance it", c.State)
	}
	if h.lastText(t) != msgPaymentUnavailable {
		t.Errorf("last text = %q, want unavailable copy", h.lastText(t))
	}
}

func TestEngineCheckoutProviderError(t *testing.T) {
	h := newEngineHarness(t)
	h.issuer.Err = errors.New("stripe exploded")
	seedDemoContact(t, h.store, "5511888880000")

	h.handle(t, "5511888880000", "generalista")

	c := h.contact(t, "5511888880000")
	if c.State != models.StateDemoSent {
		t.Errorf("state = %v, checkout failure must not advance it", c.State)
	}
	if h.lastText(t) != msgPaymentError {
		t.Errorf("last text = %q, want error copy", h.lastText(t))
	}
}

func TestEngineConfirmPayment(t *testing.T) {
	h := newEngineHarness(t)
	seedDemoContact(t, h.store, "5511777770000")
	c := h.contact(t, "5511777770000")
	c.State = models.StateAwaitingPayment
	c.Plan = models.PlanEstrategista
	if err := h.store.SaveContact(c); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	if err := h.engine.ConfirmPayment(context.Background(), "5511777770000", models.PlanEstrategista); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}

	c = h.contact(t, "5511777770000")
	if c.State != models.StateActive || !c.IsActive {
		t.Errorf("state = %v, is_active = %v", c.State, c.IsActive)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("confirmed contact fails validation: %v", err)
	}
	// Celebration sequence plus the immediate first digest.
	if texts := h.messenger.SentTexts(); len(texts) != 4 {
		t.Errorf("sent %d texts, want 4", len(texts))
	}
	if len(h.generator.Calls) != 1 || h.generator.Calls[0] != "demo" {
		t.Errorf("generator calls = %v, want one demo", h.generator.Calls)
	}
}

func TestEngineConfirmPaymentForUnknownContactCreatesIt(t *testing.T) {
	h := newEngineHarness(t)

	if err := h.engine.ConfirmPayment(context.Background(), "5511666660000", models.PlanGeneralista); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}

	c := h.contact(t, "5511666660000")
	if c.State != models.StateActive || !c.IsActive || c.Plan != models.PlanGeneralista {
		t.Errorf("contact after confirmation: %+v", c)
	}
}

func TestEngineCancelSubscription(t *testing.T) {
	h := newEngineHarness(t)
	seedDemoContact(t, h.store, "5511555550000")
	if err := h.engine.ConfirmPayment(context.Background(), "5511555550000", models.PlanGeneralista); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}

	if err := h.engine.CancelSubscription(context.Background(), "5511555550000"); err != nil {
		t.Fatalf("CancelSubscription failed: %v", err)
	}

	c := h.contact(t, "5511555550000")
	if c.IsActive || c.State != models.StateDemoSent {
		t.Errorf("after cancel: state = %v, is_active = %v", c.State, c.IsActive)
	}
	if h.lastText(t) != msgSubscriptionCanceled {
		t.Errorf("last text = %q", h.lastText(t))
	}
	prompts := h.messenger.SentPrompts()
	if len(prompts) == 0 || prompts[len(prompts)-1].Prompt.Buttons[0].ID != "generalista" {
		t.Errorf("expected a plan prompt so the contact can resubscribe")
	}
}

func TestEngineCancelSubscriptionUnknownContact(t *testing.T) {
	h := newEngineHarness(t)
	if err := h.engine.CancelSubscription(context.Background(), "5511444440000"); err != nil {
		t.Errorf("cancellation for unknown contact should be a no-op, got %v", err)
	}
}

func TestEngineDemoGeneratorFallback(t *testing.T) {
	h := newEngineHarness(t)
	h.generator.Err = errors.New("model overloaded")
	seedToneContact(t, h.store, "5511333330000")

	h.handle(t, "5511333330000", "casual")

	c := h.contact(t, "5511333330000")
	if c.State != models.StateDemoSent {
		t.Errorf("generator failure must not block the transition: state = %v", c.State)
	}
	found := false
	for _, txt := range h.messenger.SentTexts() {
		if txt.Body == msgDemoFallback {
			found = true
		}
	}
	if !found {
		t.Errorf("fallback digest copy was not sent")
	}
}

func TestEngineActiveSubscriberTalksToAssistant(t *testing.T) {
	h := newEngineHarness(t)
	seedDemoContact(t, h.store, "5511222220000")
	if err := h.engine.ConfirmPayment(context.Background(), "5511222220000", models.PlanGeneralista); err != nil {
		t.Fatalf("ConfirmPayment failed: %v", err)
	}
	h.generator.Reply = "A Selic fechou em alta hoje."

	h.handle(t, "5511222220000", "como fechou a Selic?")

	if h.lastText(t) != "A Selic fechou em alta hoje." {
		t.Errorf("last text = %q, want assistant answer", h.lastText(t))
	}
	c := h.contact(t, "5511222220000")
	if c.State != models.StateActive {
		t.Errorf("free text moved an active subscriber to %v", c.State)
	}
}

func TestEngineRunSuppressesDuplicateEvents(t *testing.T) {
	h := newEngineHarness(t)
	gate := dedup.NewMemoryGate()
	defer gate.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.engine.Run(ctx, gate)

	now := time.Now()
	event := models.InboundEvent{
		EventID: "evt-1",
		From:    "5511111110000",
		Body:    "oi",
		Kind:    models.EventKindText,
		Time:    now,
	}
	h.messenger.Inject(event)
	h.messenger.Inject(event) // transport redelivery

	deadline := time.After(2 * time.Second)
	for {
		if len(h.messenger.SentTexts()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("engine never processed the event")
		case <-time.After(10 * time.Millisecond):
		}
	}
	// Give the duplicate a chance to (incorrectly) produce output.
	time.Sleep(100 * time.Millisecond)

	welcomes := 0
	for _, txt := range h.messenger.SentTexts() {
		if txt.Body == msgWelcome {
			welcomes++
		}
	}
	if welcomes != 1 {
		t.Errorf("welcome sent %d times, want exactly 1", welcomes)
	}
}

// seedDemoContact stores a contact that has already seen the demo digest.
func seedDemoContact(t *testing.T, st store.Store, phone string) {
	t.Helper()
	c := &models.Contact{
		PhoneNumber: phone,
		Name:        "Lead",
		State:       models.StateDemoSent,
		Plan:        models.PlanGeneralista,
		Interests:   []string{"TECH", "FINANCE"},
		Profile:     "curioso",
		Tone:        "casual",
	}
	if err := st.CreateContact(c); err != nil {
		t.Fatalf("seed contact failed: %v", err)
	}
}

// seedToneContact stores a contact that is about to choose the tone.
func seedToneContact(t *testing.T, st store.Store, phone string) {
	t.Helper()
	c := &models.Contact{
		PhoneNumber: phone,
		Name:        "Lead",
		State:       models.StateSelectingTone,
		Plan:        models.PlanGeneralista,
		Interests:   []string{"TECH"},
		Profile:     "curioso",
	}
	if err := st.CreateContact(c); err != nil {
		t.Fatalf("seed contact failed: %v", err)
	}
}
