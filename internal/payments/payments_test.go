package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v79"
	"github.com/zapnoticias/zapnoticias/internal/models"
)

func TestCreateCheckoutNotConfigured(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("STRIPE_PRICE_GENERALISTA", "")
	t.Setenv("STRIPE_PRICE_ESTRATEGISTA", "")
	c := NewClient()

	contact := &models.Contact{PhoneNumber: "5511999990000"}
	_, err := c.CreateCheckout(context.Background(), contact, models.PlanGeneralista)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateCheckout without key = %v, want ErrNotConfigured", err)
	}
}

func TestCreateCheckoutMissingPrice(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("STRIPE_PRICE_GENERALISTA", "")
	t.Setenv("STRIPE_PRICE_ESTRATEGISTA", "")
	c := NewClient(WithSecretKey("sk_test_123"))

	contact := &models.Contact{PhoneNumber: "5511999990000"}
	_, err := c.CreateCheckout(context.Background(), contact, models.PlanEstrategista)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateCheckout without price id = %v, want ErrNotConfigured", err)
	}
}

func TestCreateCheckoutRejectsUnknownPlan(t *testing.T) {
	c := NewClient(WithSecretKey("sk_test_123"), WithPrices("price_a", "price_b"))

	contact := &models.Contact{PhoneNumber: "5511999990000"}
	_, err := c.CreateCheckout(context.Background(), contact, models.Plan("vitalicio"))
	if !errors.Is(err, models.ErrInvalidPlan) {
		t.Errorf("CreateCheckout with bad plan = %v, want ErrInvalidPlan", err)
	}
}

func TestParseWebhookWithoutSecret(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	c := NewClient()

	_, err := c.ParseWebhook([]byte("{}"), "sig")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ParseWebhook without secret = %v, want ErrNotConfigured", err)
	}
}

func stripeEventWith(t *testing.T, eventType string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestMapStripeEventCheckoutCompleted(t *testing.T) {
	event := stripeEventWith(t, "checkout.session.completed", map[string]any{
		"metadata": map[string]string{
			"phone_number": "5511999990000",
			"plan":         "estrategista",
		},
	})

	got, err := mapStripeEvent(event)
	if err != nil {
		t.Fatalf("mapStripeEvent failed: %v", err)
	}
	if got.Kind != EventPaymentConfirmed {
		t.Errorf("kind = %v, want %v", got.Kind, EventPaymentConfirmed)
	}
	if got.Phone != "5511999990000" || got.Plan != models.PlanEstrategista {
		t.Errorf("event = %+v", got)
	}
}

func TestMapStripeEventSubscriptionDeleted(t *testing.T) {
	event := stripeEventWith(t, "customer.subscription.deleted", map[string]any{
		"metadata": map[string]string{
			"phone_number": "5511888880000",
			"plan":         "generalista",
		},
	})

	got, err := mapStripeEvent(event)
	if err != nil {
		t.Fatalf("mapStripeEvent failed: %v", err)
	}
	if got.Kind != EventSubscriptionCanceled {
		t.Errorf("kind = %v, want %v", got.Kind, EventSubscriptionCanceled)
	}
	if got.Phone != "5511888880000" {
		t.Errorf("phone = %q", got.Phone)
	}
}

func TestMapStripeEventIgnoresUnknownTypes(t *testing.T) {
	event := stripeEventWith(t, "invoice.paid", map[string]any{})

	got, err := mapStripeEvent(event)
	if err != nil {
		t.Fatalf("mapStripeEvent failed: %v", err)
	}
	if got.Kind != EventIgnored {
		t.Errorf("kind = %v, want %v", got.Kind, EventIgnored)
	}
}

func TestMockIssuerRecordsCalls(t *testing.T) {
	issuer := &MockIssuer{}
	contact := &models.Contact{PhoneNumber: "5511999990000"}

	url, err := issuer.CreateCheckout(context.Background(), contact, models.PlanGeneralista)
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	if url == "" {
		t.Errorf("expected a default checkout URL")
	}
	if issuer.Last.Phone != "5511999990000" || issuer.Last.Plan != models.PlanGeneralista {
		t.Errorf("recorded call = %+v", issuer.Last)
	}
}
