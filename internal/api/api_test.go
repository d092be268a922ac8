package api

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/dedup"
	"github.com/zapnoticias/zapnoticias/internal/flow"
	"github.com/zapnoticias/zapnoticias/internal/genai"
	"github.com/zapnoticias/zapnoticias/internal/messaging"
	"github.com/zapnoticias/zapnoticias/internal/payments"
	"github.com/zapnoticias/zapnoticias/internal/store"
)

type serverHarness struct {
	server    *Server
	messenger *messaging.MockService
	store     *store.InMemoryStore
	gate      *dedup.MemoryGate
}

func newServerHarness(t *testing.T, opts ...Option) *serverHarness {
	t.Helper()
	st := store.NewInMemoryStore()
	messenger := messaging.NewMockService()
	engine := flow.NewEngine(st, messenger, &genai.MockGenerator{}, &payments.MockIssuer{}, flow.WithoutPauses())
	gate := dedup.NewMemoryGate()
	t.Cleanup(gate.Close)
	return &serverHarness{
		server:    NewServer(engine, gate, nil, opts...),
		messenger: messenger,
		store:     st,
		gate:      gate,
	}
}

// waitForTexts polls until the mock recorded at least n outbound texts.
func (h *serverHarness) waitForTexts(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(h.messenger.SentTexts()) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d texts, have %d", n, len(h.messenger.SentTexts()))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWebhookVerification(t *testing.T) {
	h := newServerHarness(t, WithVerifyToken("secret"))

	req := httptest.NewRequest("GET",
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.server.whatsappWebhookHandler(rec, req)
	if rec.Code != 200 || rec.Body.String() != "12345" {
		t.Errorf("handshake = %d %q, want 200 with challenge echoed", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET",
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	h.server.whatsappWebhookHandler(rec, req)
	if rec.Code != 403 {
		t.Errorf("bad token = %d, want 403", rec.Code)
	}
}

func TestWebhookAlwaysReturns200(t *testing.T) {
	h := newServerHarness(t)

	for _, body := range []string{"", "{", `{"entry": "nope"}`, `{"entry": []}`} {
		req := httptest.NewRequest("POST", "/webhook/whatsapp", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.server.whatsappWebhookHandler(rec, req)
		if rec.Code != 200 {
			t.Errorf("payload %q got %d, want 200", body, rec.Code)
		}
	}
}

const cloudAPIPayload = `{
  "entry": [{"changes": [{"value": {"messages": [{
    "id": "wamid.1",
    "from": "5511999990000",
    "timestamp": "1756600000",
    "type": "text",
    "text": {"body": "oi"}
  }]}}]}]
}`

func TestWebhookDispatchesMessage(t *testing.T) {
	h := newServerHarness(t)

	req := httptest.NewRequest("POST", "/webhook/whatsapp", strings.NewReader(cloudAPIPayload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.whatsappWebhookHandler(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h.waitForTexts(t, 1)
	contact, err := h.store.GetContactByPhone("5511999990000")
	if err != nil || contact == nil {
		t.Fatalf("contact not created: %v", err)
	}
}

func TestWebhookSuppressesDuplicateDelivery(t *testing.T) {
	h := newServerHarness(t)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/webhook/whatsapp", strings.NewReader(cloudAPIPayload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.server.whatsappWebhookHandler(rec, req)
		if rec.Code != 200 {
			t.Fatalf("redelivery %d got %d, want 200", i, rec.Code)
		}
	}

	h.waitForTexts(t, 1)
	time.Sleep(100 * time.Millisecond)

	greetings := 0
	for _, txt := range h.messenger.SentTexts() {
		if strings.Contains(txt.Body, "ZapNotícias") {
			greetings++
		}
	}
	if greetings != 1 {
		t.Errorf("greeting sent %d times, want exactly 1", greetings)
	}
}

func TestWebhookAcceptsTwilioForm(t *testing.T) {
	h := newServerHarness(t)

	form := url.Values{}
	form.Set("From", "whatsapp:+5511888880000")
	form.Set("Body", "oi")
	form.Set("MessageSid", "SM42")
	req := httptest.NewRequest("POST", "/webhook/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.server.whatsappWebhookHandler(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h.waitForTexts(t, 1)
	contact, err := h.store.GetContactByPhone("5511888880000")
	if err != nil || contact == nil {
		t.Fatalf("contact not created from form payload: %v", err)
	}
}

func TestStripeWebhookWithoutClient(t *testing.T) {
	h := newServerHarness(t)

	req := httptest.NewRequest("POST", "/webhook/stripe", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.server.stripeWebhookHandler(rec, req)
	if rec.Code != 503 {
		t.Errorf("status = %d, want 503 when payments are not configured", rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	h := newServerHarness(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.server.healthHandler(rec, req)
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}
