package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/minipay/onboarding/internal/authz"
	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/idempotency"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
	"github.com/minipay/onboarding/internal/provisioning"
	"github.com/minipay/onboarding/internal/ratelimit"
	"github.com/minipay/onboarding/internal/reconcile"
)

var serverStartTime = time.Now()

// Onboarding is the provisioning surface served over HTTP.
type Onboarding interface {
	Provision(ctx context.Context, req provisioning.Request, caller authz.Caller) (provisioning.Result, error)
	CreateCustomerAccount(ctx context.Context, principalID string, req provisioning.CustomerAccountRequest, caller authz.Caller) (provisioning.CustomerAccountResult, error)
	LinkBankAccount(ctx context.Context, principalID string, req provisioning.BankAccountLinkRequest, caller authz.Caller) (provisioning.BankAccountResult, error)
	LinkWallet(ctx context.Context, principalID, address string, caller authz.Caller) (provisioning.WalletResult, error)
	Reconcile(ctx context.Context, principalID, country string, caller authz.Caller) (reconcile.Record, error)
	ListOrphans(ctx context.Context, q provisioning.OrphanQuery) ([]provisioning.Orphan, error)
	DeleteOrphan(ctx context.Context, id string) error
}

// Deps are the collaborators the router needs. Onboarding is required.
type Deps struct {
	Onboarding  Onboarding
	Idempotency idempotency.Store
	Breakers    *circuitbreaker.Manager
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Logger      zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg        *config.Config
	onboarding Onboarding
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(cfg, deps),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, deps)

	return s
}

func newHandlers(cfg *config.Config, deps Deps) handlers {
	return handlers{
		cfg:        cfg,
		onboarding: deps.Onboarding,
		breakers:   deps.Breakers,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// ConfigureRouter attaches onboarding routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps) {
	if router == nil {
		return
	}
	handler := newHandlers(cfg, deps)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", authz.HeaderAPIKey, authz.HeaderPrincipalID, idempotency.HeaderKey, logger.HeaderRequestID},
			ExposedHeaders:   []string{idempotency.HeaderReplay, "Retry-After", "Location", logger.HeaderRequestID},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)

	// Logger assigns X-Request-ID first; chi's RequestID then reuses it.
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Callers are resolved before rate limiting so limits key on them.
	router.Use(authz.Middleware(authz.Config{
		Enabled: cfg.APIKey.Enabled,
		Keys:    cfg.APIKey.Keys,
	}))

	limits := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(limits))
	router.Use(ratelimit.CallerLimiter(limits))
	router.Use(ratelimit.IPLimiter(limits))

	prefix := cfg.Server.RoutePrefix

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
			Handle(prefix+"/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	store := deps.Idempotency
	if store == nil {
		store = idempotency.NewMemoryStore()
	}
	idempotencyMW := idempotency.Middleware(store, idempotency.DefaultTTL)

	// A provisioning call may run its full budget and then compensate.
	writeTimeout := cfg.Onboarding.CallTimeout.Duration + cfg.Onboarding.CompensationTimeout.Duration + 5*time.Second

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(writeTimeout))

		r.With(idempotencyMW).Post(prefix+"/v1/principals", handler.provision)
		r.Route(prefix+"/v1/principals/{id}", func(r chi.Router) {
			r.With(idempotencyMW).Post("/customer-account", handler.createCustomerAccount)
			r.With(idempotencyMW).Post("/bank-accounts", handler.linkBankAccount)
			r.Put("/wallet", handler.linkWallet)
			r.Get("/onboarding", handler.onboardingStatus)
		})

		r.Get(prefix+"/v1/admin/orphans", handler.listOrphans)
		r.Delete(prefix+"/v1/admin/orphans/{id}", handler.deleteOrphan)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
