package onboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/internal/config"
	"github.com/minipay/onboarding/internal/dbpool"
	"github.com/minipay/onboarding/internal/documents"
	"github.com/minipay/onboarding/internal/httpserver"
	"github.com/minipay/onboarding/internal/identity"
	"github.com/minipay/onboarding/internal/idempotency"
	"github.com/minipay/onboarding/internal/lifecycle"
	"github.com/minipay/onboarding/internal/logger"
	"github.com/minipay/onboarding/internal/metrics"
	"github.com/minipay/onboarding/internal/notify"
	"github.com/minipay/onboarding/internal/partner"
	"github.com/minipay/onboarding/internal/provisioning"
	"github.com/minipay/onboarding/internal/reconcile"
	"github.com/minipay/onboarding/internal/wallet"
)

// App wires the onboarding components for embedding or standalone serving.
type App struct {
	Config       *config.Config
	Identity     identity.Provider
	Documents    documents.Store
	Partner      partner.Client
	Notifier     notify.Sender
	DeadLetters  notify.DeadLetterStore
	Reconciler   *reconcile.Reconciler
	Sweeper      *reconcile.Sweeper
	Orchestrator *provisioning.Orchestrator
	Breakers     *circuitbreaker.Manager
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger

	router    chi.Router
	registry  *prometheus.Registry
	resources *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	identity  identity.Provider
	documents documents.Store
	partner   partner.Client
	notifier  notify.Sender
	router    chi.Router
	logger    *zerolog.Logger
	noRoutes  bool
}

// WithIdentity sets a custom identity provider. The caller keeps ownership.
func WithIdentity(p identity.Provider) Option {
	return func(o *options) { o.identity = p }
}

// WithDocuments sets a custom document store. The caller keeps ownership.
func WithDocuments(s documents.Store) Option {
	return func(o *options) { o.documents = s }
}

// WithPartner injects a partner client.
func WithPartner(c partner.Client) Option {
	return func(o *options) { o.partner = c }
}

// WithNotifier injects a verification sender.
func WithNotifier(s notify.Sender) Option {
	return func(o *options) { o.notifier = s }
}

// WithRouter registers routes on an existing chi.Router.
func WithRouter(r chi.Router) Option {
	return func(o *options) { o.router = r }
}

// WithLogger overrides the logger built from config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithoutRoutes skips HTTP wiring, for command line use.
func WithoutRoutes() Option {
	return func(o *options) { o.noRoutes = true }
}

// NewApp assembles the onboarding services. Close releases everything
// the App opened.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("onboard: config required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "onboarding",
		Environment: cfg.Logging.Environment,
	})
	if o.logger != nil {
		appLogger = *o.logger
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		Config:    cfg,
		Logger:    appLogger,
		Metrics:   metrics.New(registry),
		Breakers:  circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker),
		registry:  registry,
		resources: lifecycle.NewManager(appLogger),
	}
	ctx = logger.WithContext(ctx, appLogger)

	if err := app.init(ctx, o); err != nil {
		if closeErr := app.Close(); closeErr != nil {
			appLogger.Error().Err(closeErr).Msg("onboard.cleanup_failed")
		}
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, o options) error {
	cfg := a.Config
	pools := dbpool.NewRegistry()
	a.resources.Register("postgres-pools", pools)

	if o.identity != nil {
		a.Identity = o.identity
	} else {
		provider, err := identity.NewProvider(ctx, cfg.Identity, pools)
		if err != nil {
			return fmt.Errorf("init identity provider: %w", err)
		}
		a.Identity = provider
		a.resources.Register("identity", provider)
	}

	if o.documents != nil {
		a.Documents = documents.Instrument(o.documents, a.Metrics, "custom")
	} else {
		store, err := documents.NewStore(ctx, cfg.Documents, pools)
		if err != nil {
			return fmt.Errorf("init document store: %w", err)
		}
		a.resources.Register("documents", store)
		a.Documents = documents.Instrument(store, a.Metrics, cfg.Documents.Backend)
		if cfg.Documents.Backend == "memory" {
			a.Logger.Warn().Msg("onboard.memory_documents: data is lost on restart")
		}
	}

	if o.partner != nil {
		a.Partner = o.partner
	} else {
		client, err := partner.NewClient(cfg.Partner, a.Breakers, a.Metrics)
		if err != nil {
			return fmt.Errorf("init partner client: %w", err)
		}
		a.Partner = client
	}

	a.DeadLetters = notify.NewDocumentDeadLetter(a.Documents, "")
	if o.notifier != nil {
		a.Notifier = o.notifier
	} else {
		a.Notifier = notify.NewSender(cfg.Notifications,
			notify.WithBreakers(a.Breakers),
			notify.WithMetrics(a.Metrics),
			notify.WithDeadLetter(a.DeadLetters),
		)
	}

	a.Reconciler = reconcile.NewReconciler(
		a.Documents,
		cfg.Onboarding.Collections,
		reconcile.NewBankLinkingPolicy(cfg.Onboarding.BankLinkingCountries),
		a.Metrics,
	)
	collections := cfg.Onboarding.Collections
	collections.ApplyDefaults()
	a.Sweeper = reconcile.NewSweeper(a.Reconciler, a.Documents, collections.Users,
		cfg.Onboarding.Sweep, a.Metrics, a.Logger)

	a.Orchestrator = provisioning.New(cfg.Onboarding, provisioning.Deps{
		Identity:   a.Identity,
		Documents:  a.Documents,
		Partner:    a.Partner,
		Notifier:   a.Notifier,
		Wallets:    wallet.NewValidator(cfg.Wallet, a.Breakers),
		Reconciler: a.Reconciler,
		Metrics:    a.Metrics,
	})

	if o.noRoutes {
		return nil
	}

	a.Sweeper.Start()
	a.resources.Register("sweeper", closerFunc(a.Sweeper.Stop))

	var replays idempotency.Store
	if cfg.Documents.Backend == "memory" && o.documents == nil {
		mem := idempotency.NewMemoryStore()
		a.resources.Register("idempotency", mem)
		replays = mem
	} else {
		replays = idempotency.NewDocumentStore(a.Documents, "")
	}

	a.router = o.router
	if a.router == nil {
		a.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(a.router, cfg, httpserver.Deps{
		Onboarding:  a.Orchestrator,
		Idempotency: replays,
		Breakers:    a.Breakers,
		Metrics:     a.Metrics,
		Gatherer:    a.registry,
		Logger:      a.Logger,
	})
	return nil
}

// Router returns the chi router with onboarding routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Gatherer exposes the app's metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// Close releases resources owned by the app in reverse order of creation.
func (a *App) Close() error {
	return a.resources.Close()
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the service.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
