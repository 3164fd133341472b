// Package app wires all receptionist subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the media WebSocket until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithLiveProvider, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SandilyaSub/Receptionist/internal/analysis"
	"github.com/SandilyaSub/Receptionist/internal/bridge"
	"github.com/SandilyaSub/Receptionist/internal/config"
	"github.com/SandilyaSub/Receptionist/internal/health"
	"github.com/SandilyaSub/Receptionist/internal/notify"
	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/postcall"
	"github.com/SandilyaSub/Receptionist/internal/telephony"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/pkg/provider/live"
	livegemini "github.com/SandilyaSub/Receptionist/pkg/provider/live/gemini"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm/anyllm"
	llmgemini "github.com/SandilyaSub/Receptionist/pkg/provider/llm/gemini"
	llmopenai "github.com/SandilyaSub/Receptionist/pkg/provider/llm/openai"
	"github.com/SandilyaSub/Receptionist/pkg/storage"
	"github.com/SandilyaSub/Receptionist/pkg/storage/postgres"
)

// shutdownDrain caps how long Run waits for in-flight HTTP connections when
// the context is cancelled.
const shutdownDrain = 10 * time.Second

// Store is the persistence surface the application needs. Implemented by
// [postgres.Store] and by the storage mock.
type Store interface {
	storage.TenantStore
	storage.CallStore
	storage.NotificationStore
}

// App owns all subsystem lifetimes for one receptionist server process.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	store      Store
	tenants    *tenant.Cache
	live       live.Provider
	text       llm.Provider
	analyzer   *analysis.Analyzer
	sender     notify.Sender
	dispatcher *notify.Dispatcher
	fetcher    postcall.CallFetcher
	pipeline   *postcall.Pipeline
	metrics    *observe.Metrics
	server     *bridge.Server
	httpSrv    *http.Server

	noTelemetry  bool
	otelShutdown func(context.Context) error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to Postgres from config.
func WithStore(s Store) Option {
	return func(a *App) { a.store = s }
}

// WithLiveProvider injects a realtime model provider instead of creating the
// Gemini Live one from config.
func WithLiveProvider(p live.Provider) Option {
	return func(a *App) { a.live = p }
}

// WithTextProvider injects a text generation provider instead of building one
// through the analysis provider registry.
func WithTextProvider(p llm.Provider) Option {
	return func(a *App) { a.text = p }
}

// WithSender injects a WhatsApp sender instead of creating an MSG91 client.
func WithSender(s notify.Sender) Option {
	return func(a *App) { a.sender = s }
}

// WithFetcher injects a telephony call fetcher instead of creating a REST
// client from config.
func WithFetcher(f postcall.CallFetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithoutTelemetry skips the OpenTelemetry SDK setup. Metric instruments are
// still created, bound to the global (no-op) meter provider. Used in tests to
// avoid registering a second Prometheus exporter.
func WithoutTelemetry() Option {
	return func(a *App) { a.noTelemetry = true }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: telemetry setup, database
// connection and migration, tenant preload, provider construction, and the
// post-call pipeline assembly. A config that names an unreachable database
// fails here, not at the first call.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log.With("component", "app")}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if !a.noTelemetry {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceVersion: Version,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.otelShutdown = shutdown
	}
	a.metrics = observe.DefaultMetrics()

	// ── 2. Storage ───────────────────────────────────────────────────────
	if a.store == nil {
		if cfg.Database.URL == "" {
			return nil, errors.New("app: database.url is required (or set DATABASE_URL)")
		}
		pg, err := postgres.NewStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("app: connect database: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
	}

	// ── 3. Tenant cache ──────────────────────────────────────────────────
	a.tenants = tenant.NewCache(a.store, a.log)
	if err := a.tenants.Preload(ctx); err != nil {
		return nil, fmt.Errorf("app: preload tenants: %w", err)
	}

	// ── 4. Realtime model provider ───────────────────────────────────────
	if a.live == nil {
		var liveOpts []livegemini.Option
		if cfg.Model.Name != "" {
			liveOpts = append(liveOpts, livegemini.WithModel(cfg.Model.Name))
		}
		a.live = livegemini.New(cfg.Model.APIKey, liveOpts...)
	}

	// ── 5. Text provider + analyzer ──────────────────────────────────────
	if a.text == nil {
		p, err := buildTextProvider(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("app: build analysis provider: %w", err)
		}
		a.text = p
	}
	a.analyzer = analysis.New(a.text, a.log, analysis.WithMetrics(a.metrics))

	// ── 6. Notifications (optional) ──────────────────────────────────────
	if a.sender == nil && cfg.Notify.MSG91AuthKey != "" {
		sender, err := notify.NewMSG91Client(cfg.Notify.MSG91AuthKey, cfg.Notify.MSG91IntegratedNumber, a.log)
		if err != nil {
			return nil, fmt.Errorf("app: create msg91 client: %w", err)
		}
		a.sender = sender
	}
	if a.sender != nil {
		a.dispatcher = notify.NewDispatcher(a.text, a.sender, a.store, cfg.Notify.OwnerPhone, a.log, notify.WithMetrics(a.metrics))
	} else {
		a.log.Info("whatsapp notifications disabled: no msg91 auth key")
	}

	// ── 7. Telephony REST client (optional) ──────────────────────────────
	if a.fetcher == nil && cfg.Telephony.APIKey != "" {
		var restOpts []telephony.RESTOption
		if cfg.Telephony.BaseURL != "" {
			restOpts = append(restOpts, telephony.WithRESTBaseURL(cfg.Telephony.BaseURL))
		}
		rest, err := telephony.NewRESTClient(cfg.Telephony.APIKey, cfg.Telephony.APIToken, cfg.Telephony.AccountSID, restOpts...)
		if err != nil {
			return nil, fmt.Errorf("app: create telephony client: %w", err)
		}
		a.fetcher = rest
	}
	if a.fetcher == nil {
		a.log.Info("caller lookup disabled: no telephony credentials")
	}

	// ── 8. Post-call pipeline ────────────────────────────────────────────
	a.pipeline = postcall.New(a.fetcher, a.store, a.analyzer, a.dispatcher, a.log, postcall.WithMetrics(a.metrics))

	// ── 9. Bridge server ─────────────────────────────────────────────────
	checks := health.New(a.healthCheckers()...)
	a.server = bridge.NewServer(bridge.ServerConfig{
		BasePath: cfg.Server.BasePath,
		Session:  sessionConfig(cfg),
	}, a.tenants, a.live, a.pipeline, a.log,
		bridge.WithHealth(checks),
		bridge.WithMetrics(a.metrics),
	)

	return a, nil
}

// buildTextProvider constructs the analysis/generation LLM named in the
// config through the provider registry. The model API key doubles as the
// analysis key when no separate one is configured.
func buildTextProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	ac := cfg.Analysis
	if ac.APIKey == "" {
		ac.APIKey = cfg.Model.APIKey
	}
	return builtinRegistry().CreateAnalysis(ctx, ac)
}

// builtinRegistry wires the analysis provider factories that ship with the
// server: gemini (default), openai, and any-llm's OpenAI-compatible client
// for self-hosted or proxy endpoints.
func builtinRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterAnalysis("gemini", func(ctx context.Context, ac config.AnalysisConfig) (llm.Provider, error) {
		var opts []llmgemini.Option
		if ac.Model != "" {
			opts = append(opts, llmgemini.WithModel(ac.Model))
		}
		if ac.BaseURL != "" {
			opts = append(opts, llmgemini.WithBaseURL(ac.BaseURL))
		}
		return llmgemini.New(ctx, ac.APIKey, opts...)
	})

	reg.RegisterAnalysis("openai", func(_ context.Context, ac config.AnalysisConfig) (llm.Provider, error) {
		var opts []llmopenai.Option
		if ac.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(ac.BaseURL))
		}
		return llmopenai.New(ac.APIKey, ac.Model, opts...)
	})

	reg.RegisterAnalysis("any-llm", func(_ context.Context, ac config.AnalysisConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if ac.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(ac.APIKey))
		}
		if ac.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(ac.BaseURL))
		}
		return anyllm.NewOpenAI(ac.Model, opts...)
	})

	return reg
}

// sessionConfig maps the config file's session knobs onto the bridge session
// config; everything not exposed in the file keeps its default.
func sessionConfig(cfg *config.Config) bridge.Config {
	name := cfg.Model.Name
	if name == "" {
		name = livegemini.DefaultModel
	}
	return bridge.Config{
		InactivityTimeout: cfg.Session.InactivityTimeout.Std(),
		MaxCallDuration:   cfg.Session.MaxCallDuration.Std(),
		KeepAliveInterval: cfg.Session.KeepAliveInterval.Std(),
		Voice:             cfg.Model.Voice,
		ModelName:         name,
	}
}

// healthCheckers assembles the readiness checks. The database check only
// exists when the store can be pinged (the mock store cannot, and does not
// need to be).
func (a *App) healthCheckers() []health.Checker {
	var checks []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.Database(p))
	}
	return checks
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the full HTTP surface: the media WebSocket, health
// endpoints, and the Prometheus /metrics scrape endpoint.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", a.server.Handler())
	return mux
}

// Run serves HTTP on the configured listen address until ctx is cancelled or
// the listener fails. In-flight calls get a short drain before the listener
// closes; the post-call pipeline work they spawned is not cut off.
func (a *App) Run(ctx context.Context) error {
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info("listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	if err := a.httpSrv.Shutdown(drainCtx); err != nil {
		a.log.Warn("http drain incomplete", "error", err)
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all resources. Safe to call more than once; only the
// first call does work. ctx bounds the telemetry flush.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.httpSrv != nil {
			if err := a.httpSrv.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.otelShutdown != nil {
			if err := a.otelShutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
