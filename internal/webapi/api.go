// Package webapi implements the HTTP API of the Norns assignment service.
package webapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/norns/internal/config"
	"github.com/rafaeljc/norns/internal/experiment"
	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/validation"
)

// AdminStore manages sticky tags and principal bindings.
type AdminStore interface {
	Tag(ctx context.Context, token, tag string) error
	Untag(ctx context.Context, token, tag string) error
	Bind(ctx context.Context, principalID, token string) error
}

// API holds the router and the dependencies of every handler.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	engine *experiment.Engine

	// repo receives the decisions flushed at the end of each cycle.
	repo store.Repository

	// admin is nil when no tag store is configured; admin routes are then not mounted.
	admin AdminStore

	cfg    *config.ExperimentConfig
	logger *slog.Logger

	// apiKeyHash is the SHA-256 hash (hex) of the admin API key.
	apiKeyHash string

	// skipAuth disables admin authentication (tests and development only).
	skipAuth bool
}

// NewAPI creates an API with admin authentication enabled.
// Panics if apiKeyHash is empty.
func NewAPI(engine *experiment.Engine, repo store.Repository, admin AdminStore, cfg *config.ExperimentConfig, apiKeyHash string, logger *slog.Logger) *API {
	return NewAPIWithConfig(engine, repo, admin, cfg, apiKeyHash, false, logger)
}

// NewAPIWithConfig creates an API with explicit control over admin authentication.
//
// Panics if engine, repo or cfg are nil, or if apiKeyHash is empty while
// authentication is enabled. admin may be nil. If logger is nil, it defaults to slog.Default().
func NewAPIWithConfig(engine *experiment.Engine, repo store.Repository, admin AdminStore, cfg *config.ExperimentConfig, apiKeyHash string, skipAuth bool, logger *slog.Logger) *API {
	validation.AssertNotNil(engine, "webapi: experiment engine")
	validation.AssertImplemented(repo, "webapi: record store")
	validation.AssertNotNil(cfg, "webapi: experiment config")

	if !skipAuth && apiKeyHash == "" {
		panic("webapi: apiKeyHash cannot be empty when authentication is enabled")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := &API{
		Router:     chi.NewRouter(),
		engine:     engine,
		repo:       repo,
		cfg:        cfg,
		logger:     logger,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}
	// Keep a typed-nil store from passing the nil check below.
	if !validation.IsNil(admin) {
		api.admin = admin
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and the endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(a.requestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(Metrics)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		// Visitor routes run inside a cycle bound to the identity cookie.
		r.Group(func(r chi.Router) {
			r.Use(a.withCycle)

			r.Post("/decisions", a.handleDecide)
			r.Post("/goals", a.handleRecordGoal)

			r.Route("/session", func(r chi.Router) {
				r.Get("/", a.handleGetSession)
				r.Post("/reset", a.handleResetSession)
				r.Post("/setup", a.handleSetupSession)
			})
		})

		r.Get("/experiments/{name}/counts", a.handleCounts)

		if a.admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(a.authenticateAPIKey)

				r.Post("/tags", a.handleTag)
				r.Delete("/tags", a.handleUntag)
				r.Put("/principals/{id}", a.handleBindPrincipal)
			})
		}
	})
}

// handleHealthCheck reports that the API is serving. Dependency checks live on the observability server.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
