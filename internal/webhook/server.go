// Package webhook is the HTTP surface of the routing engine: the
// call-control and asynchronous webhook endpoints the platform delivers
// to, plus the internal invalidation hook for the administrative layer.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/config"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/guard"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/idempotency"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/metrics"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/notify"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/routing"
)

// Invalidator is the cache-invalidation surface the admin hook drives.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
	InvalidateDid(ctx context.Context, tenantID, number string) error
	InvalidateExtension(ctx context.Context, tenantID, extension string) error
	InvalidateSchedule(ctx context.Context, tenantID string, id int64) error
	InvalidateRingGroup(ctx context.Context, tenantID string, id int64) error
	InvalidateConference(ctx context.Context, tenantID string, id int64) error
}

// CDRArchive receives parsed CDR events. Nil disables archiving.
type CDRArchive interface {
	Insert(ctx context.Context, ev *models.CDREvent) error
}

// CDRLister reads archived events back for the administrative layer. An
// archive that also lists gets the /internal/cdrs endpoint for free.
type CDRLister interface {
	ListRecent(ctx context.Context, tenantID string, limit int) ([]models.CDREvent, error)
}

// Deps are the collaborators the server wires together.
type Deps struct {
	Config      *config.Config
	Logger      *slog.Logger
	Auth        *Authenticator
	Resolver    *routing.Resolver
	Idempotency idempotency.Store
	Guard       guard.Guard
	Invalidator Invalidator
	Forwarder   *notify.Forwarder
	CDRArchive  CDRArchive
	Metrics     *metrics.Registry
}

// Server holds webhook handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	auth        *Authenticator
	resolver    *routing.Resolver
	idem        idempotency.Store
	guard       guard.Guard
	invalidator Invalidator
	forwarder   *notify.Forwarder
	cdrs        CDRArchive
	metrics     *metrics.Registry

	voiceLimiter  *KeyedLimiter
	statusLimiter *KeyedLimiter

	adminSecret []byte

	nowFunc func() time.Time
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(d Deps) (*Server, error) {
	adminSecret, err := d.Config.AdminHookSecretBytes()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:        chi.NewRouter(),
		cfg:           d.Config,
		logger:        d.Logger.With("subsystem", "webhook"),
		auth:          d.Auth,
		resolver:      d.Resolver,
		idem:          d.Idempotency,
		guard:         d.Guard,
		invalidator:   d.Invalidator,
		forwarder:     d.Forwarder,
		cdrs:          d.CDRArchive,
		metrics:       d.Metrics,
		voiceLimiter:  NewKeyedLimiter(d.Config.VoiceRateLimit, d.Config.VoiceRateBurst),
		statusLimiter: NewKeyedLimiter(d.Config.StatusRateLimit, d.Config.StatusRateBurst),
		adminSecret:   adminSecret,
		nowFunc:       time.Now,
	}

	s.routes()
	return s, nil
}

// Close stops the rate limiter sweepers.
func (s *Server) Close() {
	s.voiceLimiter.Close()
	s.statusLimiter.Close()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures middleware and mounts the webhook endpoints.
func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/voice", s.timed("voice", s.handleVoice))
		r.Post("/ivr", s.timed("ivr", s.handleIVR))
		r.Post("/status", s.timed("status", s.handleStatus))
		r.Post("/session", s.timed("session", s.handleSession))
		r.Post("/cdr", s.timed("cdr", s.handleCDR))
	})

	r.Post("/internal/invalidate", s.handleInvalidate)
	r.Get("/internal/cdrs", s.handleListCDRs)

	s.logger.Info("webhook routes mounted")
}

// timed wraps a handler with a latency observation.
func (s *Server) timed(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := s.nowFunc()
		next(w, r)
		s.metrics.WebhookDuration.WithLabelValues(endpoint).
			Observe(s.nowFunc().Sub(start).Seconds())
	}
}

// handleHealth reports liveness. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jsonEnvelope{Status: "ok"})
}
