// Package app wires the vellumbot subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the store and builds the
// alias table, resolution engine, game extension and one chat bot per
// enabled transport; Run serves HTTP and the transports until the context
// ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, ...). When an option is not provided, New builds the real
// implementation from the config.
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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vellumbot/internal/alias"
	"github.com/MrWong99/vellumbot/internal/bot"
	"github.com/MrWong99/vellumbot/internal/config"
	"github.com/MrWong99/vellumbot/internal/d20"
	"github.com/MrWong99/vellumbot/internal/health"
	"github.com/MrWong99/vellumbot/internal/identity"
	"github.com/MrWong99/vellumbot/internal/observe"
	"github.com/MrWong99/vellumbot/internal/reference"
	"github.com/MrWong99/vellumbot/internal/resilience"
	"github.com/MrWong99/vellumbot/internal/resolve"
	"github.com/MrWong99/vellumbot/internal/session"
	"github.com/MrWong99/vellumbot/internal/store"
	"github.com/MrWong99/vellumbot/internal/transport/discord"
	"github.com/MrWong99/vellumbot/internal/transport/wsline"
)

// Transport names used as metric labels.
const (
	TransportDiscord = "discord"
	TransportWSLine  = "wsline"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	level    *slog.LevelVar
	registry *config.Registry
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer

	// Subsystems: initialised in New, torn down in Shutdown.
	store      store.Store
	aliases    *alias.Table
	hooks      *resolve.HookRegistry
	engine     *resolve.Engine
	library    *reference.Library
	d20        *d20.Extension
	diagnostic atomic.Bool
	health     *health.Handler

	hub     *wsline.Hub
	gateway *discord.Gateway
	bots    map[string]*bot.Bot

	mux    *http.ServeMux
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a record store instead of opening one from config. The
// caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry replaces the store driver registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets what /metrics exposes. Default: the Prometheus default
// gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:  cfg,
		log:  slog.Default(),
		bots: make(map[string]*bot.Bot),
		mux:  http.NewServeMux(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.diagnostic.Store(cfg.Server.Diagnostic)

	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initEngine(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	a.health = health.New(health.Ping("store", a.store))
	if err := a.initTransports(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transports: %w", err)
	}
	a.initHTTP()
	return a, nil
}

// initStore opens the configured store and guards its writes with a
// circuit breaker.
func (a *App) initStore(ctx context.Context) error {
	st := a.store
	if st == nil {
		opened, err := a.registry.OpenStore(ctx, a.cfg.Store)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, opened.Close)
		st = opened
	}
	breaker := resilience.NewBreaker(resilience.Config{
		Name:   "store",
		Logger: a.log,
	})
	a.store = store.Guard(st, breaker)
	a.log.Info("store ready", "driver", a.cfg.Store.Driver)
	return nil
}

// initEngine builds the alias table, hooks, resolution engine and the d20
// extension with its rules reference.
func (a *App) initEngine() error {
	a.aliases = alias.New(a.store)
	a.hooks = resolve.NewHookRegistry(
		resolve.WithHookTimeout(a.cfg.Bot.HookTimeout),
		resolve.WithHookLogger(a.log),
	)
	a.engine = resolve.New(a.aliases, a.hooks)

	var err error
	if path := a.cfg.Reference.DataPath; path != "" {
		a.library, err = reference.Load(path)
	} else {
		a.library, err = reference.Embedded()
	}
	if err != nil {
		return err
	}
	for _, d := range a.library.Domains() {
		a.log.Debug("reference domain loaded", "domain", d, "records", a.library.Len(d))
	}

	a.d20 = d20.New(a.hooks, d20.WithFinder(a.library), d20.WithLogger(a.log))
	return nil
}

// newSession is the [bot.SessionFactory] shared by every transport.
func (a *App) newSession(channel identity.Identity, isDefault bool) *session.Session {
	opts := []session.Option{
		session.WithExtension(a.d20),
		session.WithStore(a.store),
		session.WithLogger(a.log),
		session.WithDiagnostic(&a.diagnostic),
	}
	if isDefault {
		opts = append(opts, session.AsDefault())
	}
	return session.New(channel, a.engine, a.aliases, opts...)
}

func (a *App) newBot(sender bot.Sender, transport string) *bot.Bot {
	b := bot.New(a.cfg.Bot.Nick, sender, a.newSession,
		bot.WithUsers(a.store),
		bot.WithMetrics(a.metrics, transport),
		bot.WithLogger(a.log.With("transport", transport)),
		bot.WithSpamLimit(a.cfg.Bot.SpamLimit, a.cfg.Bot.SpamWindow),
		bot.WithLineDelay(a.cfg.Bot.LineDelay),
	)
	a.bots[transport] = b
	return b
}

func (a *App) initTransports() error {
	if a.cfg.WSLine.Enabled {
		a.hub = wsline.New(
			wsline.WithLogger(a.log),
			wsline.WithMetrics(a.metrics),
			wsline.WithDefaultChannel(a.cfg.Bot.DefaultChannel),
		)
		a.hub.Attach(a.newBot(a.hub, TransportWSLine))
		a.mux.Handle(a.cfg.WSLine.Path, a.hub)
		a.health.Add(health.Ping(TransportWSLine, a.hub))
		a.log.Info("wsline hub enabled", "path", a.cfg.WSLine.Path)
	}

	if a.cfg.Discord.Enabled() {
		gw, err := discord.New(discord.Config{
			Token:    a.cfg.Discord.Token,
			GuildID:  a.cfg.Discord.GuildID,
			GMRoleID: a.cfg.Discord.GMRoleID,
		}, discord.WithLogger(a.log), discord.WithCompleter(a.library))
		if err != nil {
			return err
		}
		gw.Attach(a.newBot(gw, TransportDiscord))
		a.gateway = gw
		a.health.Add(health.Ping(TransportDiscord, gw))
		a.log.Info("discord gateway enabled", "guild_id", a.cfg.Discord.GuildID)
	}

	if len(a.bots) == 0 {
		a.log.Warn("no transports enabled; only health and metrics will be served")
	}
	return nil
}

func (a *App) initHTTP() {
	a.health.Register(a.mux)
	a.mux.Handle("/metrics", observe.MetricsHandler(a.gatherer))
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler is the instrumented HTTP handler serving health, metrics and the
// wsline hub.
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics)(a.mux)
}

// Bot returns the bot serving transport, or nil.
func (a *App) Bot(transport string) *bot.Bot { return a.bots[transport] }

// Diagnostic reports whether diagnostic mode is on.
func (a *App) Diagnostic() bool { return a.diagnostic.Load() }

// Run serves HTTP and the Discord gateway, and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			a.log.Info("https listening", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("http listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.gateway != nil {
		g.Go(func() error { return a.gateway.Run(gctx) })
	}

	a.log.Info("app running", "transports", len(a.bots))
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable differences between old and new
// and returns the diff. Fields that need a restart are logged.
func (a *App) ApplyConfig(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DiagnosticChanged {
		a.diagnostic.Store(d.NewDiagnostic)
		a.log.Info("diagnostic mode changed", "diagnostic", d.NewDiagnostic)
	}
	for _, b := range a.bots {
		if d.SpamChanged {
			b.SetSpamLimit(d.NewSpamLimit, d.NewSpamWindow)
		}
		if d.LineDelayChanged {
			b.SetLineDelay(d.NewLineDelay)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "fields", d.RestartRequired)
	}
	a.cfg = new
	return d
}

// SlogLevel maps a config level to its slog equivalent.
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

// Shutdown disconnects the transports and closes the store. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.hub != nil {
			if err := a.hub.Close(); err != nil {
				a.log.Warn("wsline close error", "err", err)
			}
		}
		for name, b := range a.bots {
			if err := b.Close(); err != nil {
				a.log.Warn("bot close error", "transport", name, "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
	for _, b := range a.bots {
		_ = b.Close()
	}
}
