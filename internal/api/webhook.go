package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/payments"
)

// maxWebhookBody bounds inbound payload reads.
const maxWebhookBody = 1 << 20

// Cloud API webhook payload, trimmed to the fields the system consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID string `json:"id"`
		} `json:"button_reply"`
		ListReply *struct {
			ID string `json:"id"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
}

// whatsappWebhookHandler serves the Cloud API handshake on GET and inbound
// message batches on POST. Twilio-style form posts are accepted on the same
// path.
func (s *Server) whatsappWebhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook answers the hub.challenge subscription handshake.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == s.verifyToken && s.verifyToken != "" {
		slog.Info("Webhook verification succeeded")
		_, _ = w.Write([]byte(challenge))
		return
	}
	slog.Warn("Webhook verification failed", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// receiveWebhook parses the batch, runs each message through the dedup gate,
// and hands admitted messages to the engine, each in its own goroutine. The
// response is 200 no matter what happened internally: a non-2xx response
// only triggers a transport retry of an event that was already acted on.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.WriteHeader(http.StatusOK)
	}()

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		s.receiveTwilioForm(r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("Webhook body read failed", "error", err)
		return
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Error("Webhook payload decode failed", "error", err)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				s.dispatchMessage(msg)
			}
		}
	}
}

// receiveTwilioForm handles a Twilio-style form-encoded inbound message.
func (s *Server) receiveTwilioForm(r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Twilio form parse failed", "error", err)
		return
	}
	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")
	sid := r.FormValue("MessageSid")
	if from == "" || body == "" {
		slog.Warn("Twilio form missing fields", "from", from)
		return
	}
	s.admitAndHandle(sid, from, body)
}

// dispatchMessage extracts the body from one Cloud API message and admits it.
func (s *Server) dispatchMessage(msg webhookMessage) {
	var body string
	switch {
	case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
		body = msg.Interactive.ButtonReply.ID
	case msg.Interactive != nil && msg.Interactive.ListReply != nil:
		body = msg.Interactive.ListReply.ID
	case msg.Button != nil:
		body = msg.Button.Text
	case msg.Text != nil:
		body = msg.Text.Body
	default:
		slog.Debug("Webhook ignoring unsupported message type", "type", msg.Type, "from", msg.From)
		return
	}

	at := time.Now()
	if secs, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
		at = time.Unix(secs, 0)
	}
	s.admitAndHandleAt(msg.ID, msg.From, body, at)
}

func (s *Server) admitAndHandle(eventID, from, body string) {
	s.admitAndHandleAt(eventID, from, body, time.Now())
}

func (s *Server) admitAndHandleAt(eventID, from, body string, at time.Time) {
	if !s.gate.Admit(eventID, at) {
		slog.Debug("Webhook duplicate suppressed", "event_id", eventID, "from", from)
		return
	}
	go func() {
		if err := s.engine.HandleMessage(context.Background(), from, body); err != nil {
			slog.Error("Webhook message handling failed", "error", err, "from", from)
		}
	}()
}

// stripeWebhookHandler applies Stripe subscription lifecycle events onto
// contacts.
func (s *Server) stripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.stripe == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("Stripe webhook body read failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := s.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		slog.Error("Stripe webhook rejected", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Kind {
	case payments.EventPaymentConfirmed:
		if err := s.engine.ConfirmPayment(r.Context(), event.Phone, event.Plan); err != nil {
			slog.Error("Stripe payment confirmation failed", "error", err, "phone", event.Phone)
		}
	case payments.EventSubscriptionCanceled:
		if err := s.engine.CancelSubscription(r.Context(), event.Phone); err != nil {
			slog.Error("Stripe cancellation failed", "error", err, "phone", event.Phone)
		}
	}
	w.WriteHeader(http.StatusOK)
}
