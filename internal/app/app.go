// Package app wires the voxdesk subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the classifier, the
// ticket store, the similarity index and its lifecycle manager, plus the
// NATS intake consumer when one is configured; Run serves
// the HTTP API until the context is cancelled; Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxdesk/internal/aisignal"
	"github.com/MrWong99/voxdesk/internal/api"
	"github.com/MrWong99/voxdesk/internal/classify"
	"github.com/MrWong99/voxdesk/internal/config"
	"github.com/MrWong99/voxdesk/internal/health"
	"github.com/MrWong99/voxdesk/internal/ingest"
	"github.com/MrWong99/voxdesk/internal/intake"
	"github.com/MrWong99/voxdesk/internal/lexicon"
	"github.com/MrWong99/voxdesk/internal/lifecycle"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/ticketstore"
	"github.com/MrWong99/voxdesk/internal/ticketstore/memory"
	"github.com/MrWong99/voxdesk/internal/ticketstore/postgres"
	"github.com/MrWong99/voxdesk/internal/ticketstore/sqlite"
	"github.com/MrWong99/voxdesk/internal/triage"
	"github.com/MrWong99/voxdesk/pkg/simindex"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	lex      *lexicon.Lexicon
	analyzer classify.Analyzer
	service  atomic.Pointer[triage.Service]
	store    ticketstore.Store
	index    *simindex.Index
	manager  *lifecycle.Manager
	tickets  *ingest.Indexer
	nc       *nats.Conn
	intake   *intake.Consumer

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a ticket store instead of opening one from config. The
// App does not close an injected store.
func WithStore(s ticketstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLexicon classifies against lex instead of loading
// cfg.Classifier.LexiconFile.
func WithLexicon(lex *lexicon.Lexicon) Option {
	return func(a *App) { a.lex = lex }
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. providers may be nil or partially filled;
// missing providers degrade the features that need them.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Lexicon and classifier ────────────────────────────────────────
	if err := a.initClassifier(); err != nil {
		return nil, fmt.Errorf("app: init classifier: %w", err)
	}

	// ── 2. Ticket store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Index, lifecycle and indexer ──────────────────────────────────
	if err := a.initIndex(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init index: %w", err)
	}

	// ── 4. NATS intake (optional) ────────────────────────────────────────
	if err := a.initIntake(); err != nil {
		a.manager.Unschedule()
		a.runClosers()
		return nil, fmt.Errorf("app: init intake: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initClassifier() error {
	if a.lex == nil {
		lex, err := LoadLexicon(a.cfg.Classifier.LexiconFile)
		if err != nil {
			return err
		}
		a.lex = lex
	}

	a.analyzer = a.buildAnalyzer()
	a.service.Store(a.newService(a.cfg.Classifier))
	return nil
}

// LoadLexicon reads the keyword table at path, or returns the built-in one
// when path is empty.
func LoadLexicon(path string) (*lexicon.Lexicon, error) {
	if path == "" {
		return lexicon.Default(), nil
	}
	lex, err := lexicon.Load(path)
	if err != nil {
		return nil, err
	}
	slog.Info("lexicon loaded", "path", path, "version", lex.Version())
	return lex, nil
}

// buildAnalyzer stacks the AI signal decorators, innermost first:
// model → breaker → rate limit → cache.
func (a *App) buildAnalyzer() classify.Analyzer {
	if a.providers.LLM == nil {
		return aisignal.Disabled{}
	}
	c := a.cfg.Classifier
	entry := a.cfg.Providers.LLM

	opts := []aisignal.Option{
		aisignal.WithModelName(entryLabel(entry)),
		aisignal.WithMetrics(a.metrics),
	}
	if t, ok := optFloat(entry.Options, "temperature"); ok {
		opts = append(opts, aisignal.WithTemperature(t))
	}
	if n := optInt(entry.Options, "max_tokens"); n > 0 {
		opts = append(opts, aisignal.WithMaxTokens(n))
	}

	var an classify.Analyzer = aisignal.NewLLMAnalyzer(a.providers.LLM, a.lex, opts...)
	bc := breakerConfig(c.Breaker)
	bc.Name = "ai-signal"
	an = aisignal.NewBreaker(an, bc)
	if c.AIRateLimit > 0 {
		an = aisignal.NewRateLimited(an, c.AIRateLimit, c.AIBurst)
	}
	if c.AICacheTTL > 0 {
		an = aisignal.NewCached(an, c.AICacheTTL)
	}
	return an
}

func (a *App) newService(c config.ClassifierConfig) *triage.Service {
	return triage.New(a.lex,
		triage.WithAnalyzer(a.analyzer),
		triage.WithAITimeout(c.AITimeout),
		triage.WithMinKeywordConfidence(c.MinKeywordConfidence),
		triage.WithMaxInputRunes(c.MaxInputRunes),
		triage.WithMetrics(a.metrics),
	)
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Store
	switch sc.Driver {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, sc.DSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorePostgres:
		s, err := postgres.New(ctx, sc.DSN, a.cfg.Index.Dimensions)
		if err != nil {
			return err
		}
		a.store = s
	case config.StoreMemory, "":
		a.store = memory.New()
	default:
		return fmt.Errorf("unsupported store driver %q", sc.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("ticket store opened", "driver", sc.Driver)
	return nil
}

func (a *App) initIndex() error {
	ic := a.cfg.Index
	var ixOpts []simindex.Option
	if ic.CompactThreshold > 0 {
		ixOpts = append(ixOpts, simindex.WithCompactThreshold(ic.CompactThreshold))
	}
	if ic.RebuildChunkSize > 0 {
		ixOpts = append(ixOpts, simindex.WithRebuildChunkSize(ic.RebuildChunkSize))
	}
	ix, err := simindex.New(ic.Dimensions, ixOpts...)
	if err != nil {
		return err
	}
	a.index = ix

	lcOpts := []lifecycle.Option{
		lifecycle.WithSink(a.store),
		lifecycle.WithEmbedBatchSize(ic.EmbedBatchSize),
		lifecycle.WithEmbedConcurrency(ic.EmbedConcurrency),
		lifecycle.WithMetrics(a.metrics),
	}
	if a.providers.Embeddings != nil {
		lcOpts = append(lcOpts, lifecycle.WithEmbedder(a.providers.Embeddings))
	}
	a.manager = lifecycle.New(ix, a.store, lcOpts...)
	a.tickets = ingest.New(ix, a.providers.Embeddings, a.store,
		ingest.WithMetrics(a.metrics),
		ingest.WithRetryBatchSize(ic.EmbedBatchSize),
	)

	if ic.RebuildSchedule != "" {
		if err := a.manager.Schedule(ic.RebuildSchedule); err != nil {
			return err
		}
	}
	return nil
}

// initIntake connects to NATS and subscribes to finalized tickets when
// intake.nats_url is set. The consumer is stopped before the store closes.
func (a *App) initIntake() error {
	ic := a.cfg.Intake
	if ic.NATSURL == "" {
		return nil
	}
	nc, err := nats.Connect(ic.NATSURL,
		nats.Name(a.cfg.Telemetry.ServiceName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	consumer := intake.New(nc, a.tickets,
		intake.WithSubject(ic.Subject),
		intake.WithMetrics(a.metrics),
	)
	if err := consumer.Start(); err != nil {
		nc.Close()
		return err
	}
	a.nc = nc
	a.intake = consumer
	stop := func() error {
		err := consumer.Stop()
		nc.Close()
		return err
	}
	a.closers = append([]func() error{stop}, a.closers...)
	slog.Info("ticket intake subscribed", "subject", consumer.Subject(), "dlq", consumer.DeadLetterSubject())
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Classify classifies one complaint with the current classifier settings.
func (a *App) Classify(ctx context.Context, text string) (*triage.Result, error) {
	return a.service.Load().Classify(ctx, text)
}

// Lexicon returns the lexicon in use.
func (a *App) Lexicon() *lexicon.Lexicon { return a.lex }

// Store returns the ticket store.
func (a *App) Store() ticketstore.Store { return a.store }

// Manager returns the index lifecycle manager.
func (a *App) Manager() *lifecycle.Manager { return a.manager }

// Tickets returns the ticket indexer.
func (a *App) Tickets() *ingest.Indexer { return a.tickets }

// Intake returns the NATS intake consumer, or nil when intake is disabled.
func (a *App) Intake() *intake.Consumer { return a.intake }

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler returns the full HTTP surface: the API, health probes and
// Prometheus metrics, wrapped in the tracing middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	api.New(a, a.tickets, a.manager).Register(mux)

	checkers := []health.Checker{health.Ping("store", a.store)}
	if a.cfg.Index.BuildOnStart {
		checkers = append(checkers, health.IndexBuilt(a.manager.Status))
	}
	if a.nc != nil {
		checkers = append(checkers, health.Connected("intake", a.nc.IsConnected))
	}
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// Run serves the HTTP API on cfg.Server.ListenAddr until ctx is cancelled.
// When index.build_on_start is set, an index build starts in the background
// first.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Index.BuildOnStart {
		if err := a.manager.StartBuild(ctx); err != nil {
			slog.Warn("initial index build not started", "err", err)
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change: the log
// level, the classifier thresholds and the rebuild schedule. Other changes
// are logged as needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.IsZero() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ClassifierChanged {
		a.service.Store(a.newService(new.Classifier))
		slog.Info("classifier settings reloaded",
			"ai_timeout", new.Classifier.AITimeout,
			"min_keyword_confidence", new.Classifier.MinKeywordConfidence,
			"max_input_runes", new.Classifier.MaxInputRunes,
		)
	}
	if d.ScheduleChanged {
		if d.NewSchedule == "" {
			a.manager.Unschedule()
			slog.Info("scheduled index rebuilds disabled")
		} else if err := a.manager.Schedule(d.NewSchedule); err != nil {
			slog.Warn("rebuild schedule not changed", "schedule", d.NewSchedule, "err", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to a slog level. Unknown levels map to
// info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops scheduled rebuilds, waits for a running build, drains the
// intake subscription and closes the store. It respects the context deadline: if ctx expires first, the
// remaining closers still run and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		if err := a.manager.Close(ctx); err != nil {
			slog.Warn("index build still running at shutdown", "err", err)
			shutdownErr = err
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
