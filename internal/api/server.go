// Package api exposes NeverDown over HTTP: incident ingress and review,
// webhook receivers, the GitHub OAuth flow for the UI, and health probes.
// Pipeline execution is strictly asynchronous; handlers only validate,
// persist, and queue.
package api

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/neverdownhq/neverdown/internal/config"
	"github.com/neverdownhq/neverdown/internal/ghost"
	"github.com/neverdownhq/neverdown/internal/model"
	"github.com/neverdownhq/neverdown/internal/store"
)

// Pipeline is the orchestrator surface the handlers drive.
type Pipeline interface {
	Enqueue(id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID) error
	Approve(ctx context.Context, id uuid.UUID) error
	RequestChanges(ctx context.Context, id uuid.UUID, feedback string) error
	ActivateFromWebhook(ctx context.Context, repoURL, logs string) (uuid.UUID, error)
}

// IncidentStore is the persistence slice the handlers need.
type IncidentStore interface {
	Create(ctx context.Context, in *model.Incident) error
	Get(ctx context.Context, id uuid.UUID) (*model.Incident, error)
	List(ctx context.Context, status model.Status, limit, offset int) ([]*model.Incident, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ArtifactStore serves persisted stage artifacts.
type ArtifactStore interface {
	Load(ctx context.Context, incidentID uuid.UUID, stage store.Stage, out any) error
}

// Pinger reports database reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the server to the rest of the system.
type Deps struct {
	Pipeline  Pipeline
	Incidents IncidentStore
	Artifacts ArtifactStore
	DB        Pinger
	Logger    *log.Logger
}

// Server carries handler state. Build one with New and mount Router.
type Server struct {
	cfg  config.ServerConfig
	gh   config.GitHubConfig
	deps Deps

	validate   *validator.Validate
	limiter    *rateLimiter
	states     *stateJar
	deliveries *deliveryLog

	// allowed holds canonicalised repository URLs; empty means allow all.
	allowed map[string]bool

	// oauthEndpoint is swapped for a local server in tests.
	oauthEndpoint oauth2.Endpoint

	version string
}

// Option mutates the server at construction time.
type Option func(*Server)

// WithVersion sets the version string reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New builds the HTTP server state.
func New(cfg config.ServerConfig, gh config.GitHubConfig, deps Deps, opts ...Option) *Server {
	s := &Server{
		cfg:           cfg,
		gh:            gh,
		deps:          deps,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		limiter:       newRateLimiter(defaultRequestsPerMinute),
		states:        newStateJar(),
		deliveries:    newDeliveryLog(deliveryLogSize),
		allowed:       map[string]bool{},
		oauthEndpoint: oauthgithub.Endpoint,
		version:       "dev",
	}
	for _, raw := range cfg.AllowedRepos {
		if canon, err := ghost.CanonicalRepoURL(raw); err == nil {
			s.allowed[canon] = true
		} else {
			s.logf("skipping malformed allowed_repos entry", "url", raw, "err", err)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/incidents", s.handleCreateIncident)
		r.Get("/incidents", s.handleListIncidents)
		r.Get("/incidents/{id}", s.handleGetIncident)
		r.Delete("/incidents/{id}", s.handleDeleteIncident)
		r.Post("/incidents/{id}/retry", s.handleRetry)
		r.Post("/incidents/{id}/feedback", s.handleFeedback)
		r.Get("/incidents/{id}/{stage:detective|reasoner|verifier}", s.handleArtifact)

		r.Post("/webhooks/github", s.handleGitHubWebhook)
		r.Post("/webhooks/datadog", s.handleDatadogWebhook)

		r.Get("/auth/github/login", s.handleOAuthLogin)
		r.Get("/auth/github/callback", s.handleOAuthCallback)
	})

	return r
}

// repoAllowed applies the ingress allow-list. An empty list admits any
// repository; an unparsable URL is only admitted when the list is empty.
func (s *Server) repoAllowed(repoURL string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	canon, err := ghost.CanonicalRepoURL(repoURL)
	if err != nil {
		return false
	}
	return s.allowed[canon]
}

func (s *Server) logf(msg string, kv ...any) {
	if s.deps.Logger == nil {
		return
	}
	s.deps.Logger.Info(msg, kv...)
}

func (s *Server) warnf(msg string, kv ...any) {
	if s.deps.Logger == nil {
		return
	}
	s.deps.Logger.Warn(msg, kv...)
}
