// Package server exposes the HTTP API: lead discovery streaming, the voice
// provider webhook, and call proxy endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/call"
	"github.com/danielliuzy/cold-call-machine/internal/classify"
	"github.com/danielliuzy/cold-call-machine/internal/discovery"
	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
	"github.com/danielliuzy/cold-call-machine/pkg/vapi"
)

// Server wires the domain services behind a chi router.
type Server struct {
	store      store.Store
	machine    *call.Machine
	discoverer *discovery.Discoverer
	classifier *classify.Classifier
	vapi       vapi.Client

	allowedOrigins []string
	webhookSecret  string
}

// Option configures the Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS allow list. Defaults to "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithWebhookSecret requires provider webhooks to carry the shared secret in
// the x-vapi-secret header. Empty disables the check.
func WithWebhookSecret(secret string) Option {
	return func(s *Server) {
		s.webhookSecret = secret
	}
}

// New creates a Server.
func New(st store.Store, m *call.Machine, d *discovery.Discoverer, c *classify.Classifier, v vapi.Client, opts ...Option) *Server {
	s := &Server{
		store:          st,
		machine:        m,
		discoverer:     d,
		classifier:     c,
		vapi:           v,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/webhook/vapi", s.handleWebhook)
	r.Route("/api", func(r chi.Router) {
		r.Post("/leads/analyze-company-leads", s.handleAnalyzeCompanyLeads)
		r.Get("/call/calls", s.handleListCalls)
		r.Get("/call/calls/{id}", s.handleGetCall)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook routes provider lifecycle events into the state machine.
// Unparseable bodies get 400; handler errors get 500 so the provider retries.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" && r.Header.Get("x-vapi-secret") != s.webhookSecret {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var ev call.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		zap.L().Warn("invalid webhook payload", zap.Error(err))
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	zap.L().Info("webhook event", zap.String("type", ev.Type))

	if err := s.machine.Apply(r.Context(), ev); err != nil {
		zap.L().Error("webhook processing failed", zap.String("type", ev.Type), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type analyzeRequest struct {
	CompanyURL string `json:"companyUrl"`
}

// handleAnalyzeCompanyLeads classifies the business behind the URL and streams
// newline-delimited JSON lead objects as discovery stores them. Setup errors
// fail the request; once streaming starts, item failures are only logged.
func (s *Server) handleAnalyzeCompanyLeads(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CompanyURL == "" {
		http.Error(w, "companyUrl is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	profile := s.classifier.Classify(ctx, req.CompanyURL)
	business, err := s.store.CreateBusiness(ctx, profile)
	if err != nil {
		zap.L().Error("create business failed", zap.String("url", req.CompanyURL), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := s.store.PutSettings(ctx, model.DefaultSettings(business.ID)); err != nil {
		zap.L().Error("put settings failed", zap.String("business_id", business.ID), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	res, err := s.discoverer.Discover(ctx, business, func(l model.Lead) {
		if err := enc.Encode(l); err != nil {
			zap.L().Warn("stream write failed", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		// Headers are gone; the truncated stream is the failure signal.
		zap.L().Error("discovery failed mid-stream", zap.Error(err))
		return
	}

	zap.L().Info("discovery complete",
		zap.String("business_id", business.ID),
		zap.Int("leads", len(res.Leads)),
		zap.Int("failed", len(res.Failed)),
	)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	c, err := s.vapi.GetCall(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.vapi.ListCalls(r.Context(), r.URL.Query())
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// writeProviderError translates voice provider errors for API callers:
// 401/404/429 get canonical texts, other provider statuses pass the provider
// payload through, and transport failures map to 502.
func writeProviderError(w http.ResponseWriter, err error) {
	var apiErr *vapi.APIError
	if !errors.As(err, &apiErr) {
		zap.L().Error("voice provider unreachable", zap.Error(err))
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case http.StatusNotFound:
		http.Error(w, "Not Found", http.StatusNotFound)
	case http.StatusTooManyRequests:
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		_, _ = w.Write([]byte(apiErr.Body))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}
