// Package payments wraps Stripe subscription checkout and webhook parsing.
//
// Checkout sessions carry the contact's phone number and chosen plan as
// metadata, so the asynchronous webhook can be applied back onto the right
// contact record.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
	"github.com/zapnoticias/zapnoticias/internal/models"
)

// TrialPeriodDays is the free trial length granted on every subscription.
const TrialPeriodDays = 5

// ErrNotConfigured is returned when the Stripe key or the price id for the
// requested plan is missing. The engine maps it to contact-us copy without
// a state transition.
var ErrNotConfigured = errors.New("stripe not configured")

// EventKind classifies webhook events the system reacts to.
type EventKind string

const (
	// EventPaymentConfirmed activates the contact's subscription.
	EventPaymentConfirmed EventKind = "payment_confirmed"
	// EventSubscriptionCanceled deactivates the contact's subscription.
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	// EventIgnored is anything the system does not act on.
	EventIgnored EventKind = "ignored"
)

// Event is a parsed, system-relevant webhook event.
type Event struct {
	Kind  EventKind
	Phone string
	Plan  models.Plan
}

// Opts holds configuration options for the Stripe client.
type Opts struct {
	SecretKey         string
	WebhookSecret     string
	PriceGeneralista  string
	PriceEstrategista string
	SuccessURL        string
	CancelURL         string
}

// Option defines a configuration option for the Stripe client.
type Option func(*Opts)

// WithSecretKey sets the Stripe API secret key.
func WithSecretKey(key string) Option {
	return func(o *Opts) { o.SecretKey = key }
}

// WithWebhookSecret sets the webhook signing secret.
func WithWebhookSecret(secret string) Option {
	return func(o *Opts) { o.WebhookSecret = secret }
}

// WithPrices sets the Stripe price ids for the two plans.
func WithPrices(generalista, estrategista string) Option {
	return func(o *Opts) {
		o.PriceGeneralista = generalista
		o.PriceEstrategista = estrategista
	}
}

// WithRedirectURLs sets the post-checkout redirect URLs.
func WithRedirectURLs(success, cancel string) Option {
	return func(o *Opts) {
		o.SuccessURL = success
		o.CancelURL = cancel
	}
}

// Client issues checkout sessions and parses webhook payloads.
type Client struct {
	cfg Opts
}

// NewClient creates a Stripe client, falling back to environment variables
// for unset options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	}
	if cfg.PriceGeneralista == "" {
		cfg.PriceGeneralista = os.Getenv("STRIPE_PRICE_GENERALISTA")
	}
	if cfg.PriceEstrategista == "" {
		cfg.PriceEstrategista = os.Getenv("STRIPE_PRICE_ESTRATEGISTA")
	}
	slog.Debug("Stripe client config loaded",
		"SecretKey_set", cfg.SecretKey != "",
		"WebhookSecret_set", cfg.WebhookSecret != "",
		"prices_set", cfg.PriceGeneralista != "" && cfg.PriceEstrategista != "")

	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// priceID resolves the Stripe price id for a plan.
func (c *Client) priceID(plan models.Plan) string {
	if plan == models.PlanEstrategista {
		return c.cfg.PriceEstrategista
	}
	return c.cfg.PriceGeneralista
}

// CreateCheckout creates a subscription checkout session with a free trial
// and returns its URL. Missing key or price id yields ErrNotConfigured.
func (c *Client) CreateCheckout(ctx context.Context, contact *models.Contact, plan models.Plan) (string, error) {
	if !models.IsValidPlan(plan) {
		return "", models.ErrInvalidPlan
	}
	if c.cfg.SecretKey == "" {
		return "", ErrNotConfigured
	}
	priceID := c.priceID(plan)
	if priceID == "" {
		return "", fmt.Errorf("missing price id for plan %s: %w", plan, ErrNotConfigured)
	}

	metadata := map[string]string{
		"phone_number": contact.PhoneNumber,
		"plan":         string(plan),
	}
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
		Mode:   stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(TrialPeriodDays),
			Metadata:        metadata,
		},
		Metadata: metadata,
	}

	sess, err := session.New(params)
	if err != nil {
		slog.Error("Stripe checkout session creation failed", "error", err, "plan", plan)
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	slog.Info("Stripe checkout session created", "plan", plan, "phone", contact.PhoneNumber)
	return sess.URL, nil
}

// ParseWebhook verifies the payload signature and maps the Stripe event to
// a system event. Unknown event types come back as EventIgnored, not errors.
func (c *Client) ParseWebhook(payload []byte, signature string) (Event, error) {
	if c.cfg.WebhookSecret == "" {
		return Event{}, ErrNotConfigured
	}
	stripeEvent, err := webhook.ConstructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return mapStripeEvent(stripeEvent)
}

func mapStripeEvent(stripeEvent stripe.Event) (Event, error) {
	switch stripeEvent.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sess); err != nil {
			return Event{}, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		return Event{
			Kind:  EventPaymentConfirmed,
			Phone: sess.Metadata["phone_number"],
			Plan:  models.Plan(sess.Metadata["plan"]),
		}, nil
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return Event{}, fmt.Errorf("failed to decode subscription: %w", err)
		}
		return Event{
			Kind:  EventSubscriptionCanceled,
			Phone: sub.Metadata["phone_number"],
			Plan:  models.Plan(sub.Metadata["plan"]),
		}, nil
	default:
		slog.Debug("Stripe event ignored", "type", stripeEvent.Type)
		return Event{Kind: EventIgnored}, nil
	}
}

// MockIssuer is a test double for checkout issuance.
type MockIssuer struct {
	URL  string
	Err  error
	Last struct {
		Phone string
		Plan  models.Plan
	}
}

// CreateCheckout returns the configured URL or error and records the call.
func (m *MockIssuer) CreateCheckout(ctx context.Context, contact *models.Contact, plan models.Plan) (string, error) {
	m.Last.Phone = contact.PhoneNumber
	m.Last.Plan = plan
	if m.Err != nil {
		return "", m.Err
	}
	if m.URL == "" {
		return "https://checkout.example/session", nil
	}
	return m.URL, nil
}
