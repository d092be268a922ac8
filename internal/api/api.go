// Package api provides the HTTP server for ZapNotícias: the WhatsApp Cloud
// API webhook, the Twilio form webhook, the Stripe webhook, and a health
// endpoint.
//
// The inbound webhook always answers 200: the transport retries non-2xx
// responses, and a retry would just feed a duplicate into the dedup gate.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapnoticias/zapnoticias/internal/dedup"
	"github.com/zapnoticias/zapnoticias/internal/flow"
	"github.com/zapnoticias/zapnoticias/internal/payments"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	VerifyToken string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the token expected by the webhook verification
// handshake.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// Server wires the webhook handlers to the engine and the dedup gate.
type Server struct {
	engine      *flow.Engine
	gate        dedup.Gate
	stripe      *payments.Client
	verifyToken string
	httpServer  *http.Server
}

// NewServer creates the API server. The stripe client may be nil when
// payments are not configured; its webhook then answers 503.
func NewServer(engine *flow.Engine, gate dedup.Gate, stripe *payments.Client, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		engine:      engine,
		gate:        gate,
		stripe:      stripe,
		verifyToken: cfg.VerifyToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/webhook/whatsapp", s.whatsappWebhookHandler)
	mux.HandleFunc("/webhook/stripe", s.stripeWebhookHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}
