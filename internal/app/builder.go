package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"roboai/internal/agent"
	authagent "roboai/internal/agent/auth"
	dataagent "roboai/internal/agent/data"
	execagent "roboai/internal/agent/execution"
	"roboai/internal/audit"
	"roboai/internal/config"
	"roboai/internal/config/loader"
	"roboai/internal/execution"
	"roboai/internal/gateway/broker"
	"roboai/internal/gateway/notifier"
	"roboai/internal/logger"
	"roboai/internal/scheduler"
	"roboai/internal/store/gormdb"
	"roboai/internal/store/journal"
	livehttp "roboai/internal/transport/http/live"
)

// AppBuilder assembles the runtime from configuration. The function fields
// are the seams tests use to swap external collaborators.
type AppBuilder struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger

	sessionFactory authagent.SessionFactory
	notifierFn     func(config.NotifyConfig) notifier.TextNotifier
	storeFn        func(config.DatabaseConfig) (*gormdb.Store, error)
	journalFn      func(path string) (*journal.Journal, error)
	clock          *scheduler.SessionClock
}

type AppBuilderOption func(*AppBuilder)

// WithConfigPath enables hot reload of the runtime flags from path.
func WithConfigPath(path string) AppBuilderOption {
	return func(b *AppBuilder) { b.configPath = strings.TrimSpace(path) }
}

func WithSessionFactory(fn authagent.SessionFactory) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sessionFactory = fn
		}
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if n != nil {
			b.notifierFn = func(config.NotifyConfig) notifier.TextNotifier { return n }
		}
	}
}

func WithSessionClock(c *scheduler.SessionClock) AppBuilderOption {
	return func(b *AppBuilder) { b.clock = c }
}

func WithLogger(l *slog.Logger) AppBuilderOption {
	return func(b *AppBuilder) { b.log = l }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:            cfg,
		sessionFactory: newBrokerSession,
		notifierFn:     newNotifier,
		storeFn:        gormdb.Open,
		journalFn:      journal.Open,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.log == nil {
		b.log = logger.L()
	}
	return b
}

// newBrokerSession is the production session factory: a REST client whose
// one-time codes come from the configured TOTP secret.
func newBrokerSession(cfg config.BrokerConfig) (broker.Session, error) {
	return broker.NewClient(broker.ClientConfig{
		BaseURL: cfg.APIURL,
		Timeout: cfg.Timeout(),
		Credentials: broker.Credentials{
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			ClientCode: cfg.ClientCode,
			OTP:        broker.TOTP{Secret: cfg.TOTPSecret},
		},
	}, logger.L())
}

func newNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled {
		return notifier.Nop()
	}
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	log := b.log
	logger.SetLevel(cfg.App.LogLevel)

	var closers []io.Closer
	defer func() {
		if err != nil {
			closeAll(closers, log)
		}
	}()

	jr, err := b.journalFn(cfg.Database.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	closers = append(closers, jr)
	var sink audit.Sink = jr

	st, err := b.storeFn(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}
	closers = append(closers, st)
	log.Info("order store ready", "driver", st.Driver())

	flags, err := b.flags(cfg)
	if err != nil {
		return nil, err
	}
	notify := b.notifierFn(cfg.Notify)

	registry := agent.NewRegistry(log)

	var auth *authagent.Worker
	if cfg.Broker.HasCredentials() || cfg.Trading.IsLive() {
		var rt *agent.Runtime
		rt, auth = authagent.New(authagent.Options{
			Broker:   cfg.Broker,
			Network:  cfg.Network,
			Factory:  b.sessionFactory,
			Notifier: notify,
			Sink:     sink,
			Logger:   log,
		})
		registry.Register(rt)
	} else {
		log.Warn("broker credentials not configured, running without a broker session")
	}
	session := func() broker.Session {
		if auth == nil {
			return nil
		}
		return auth.Client()
	}

	var prices execution.PriceSource
	if cfg.Data.Enabled {
		rt, data := dataagent.New(dataagent.Options{
			Data:    cfg.Data,
			Session: session,
			Sink:    sink,
			Logger:  log,
		})
		registry.Register(rt)
		prices = data
	}

	clock := b.clock
	if clock == nil {
		clock = scheduler.NewSessionClock(time.Local, 0)
	}
	core, err := execution.NewCore(execution.Options{
		Trading:   cfg.Trading,
		Risk:      cfg.Risk,
		AutoTrade: flags.AutoTrade,
		Broker:    session,
		Prices:    prices,
		Store:     st,
		Notifier:  notify,
		Sink:      sink,
		Clock:     clock,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("execution core: %w", err)
	}
	execRT, _ := execagent.New(execagent.Options{
		Core:    core,
		Trading: cfg.Trading,
		Broker:  session,
		Sink:    sink,
		Logger:  log,
	})
	registry.Register(execRT)

	var server *livehttp.Server
	if cfg.App.HTTPEnabled {
		var conn livehttp.ConnectionFunc
		if auth != nil {
			conn = auth.Connection
		}
		server, err = livehttp.NewServer(livehttp.ServerConfig{
			Addr:       cfg.App.HTTPAddr,
			Registry:   registry,
			Core:       core,
			Ledger:     st,
			Switch:     flags,
			Connection: conn,
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("http server: %w", err)
		}
	}

	return &App{
		cfg:      cfg,
		log:      logger.Component(log, "app"),
		registry: registry,
		core:     core,
		flags:    flags,
		http:     server,
		closers:  closers,
		Summary:  newSummary(cfg, registry.List(), flags.AutoTrade()),
	}, nil
}

func (b *AppBuilder) flags(cfg *config.Config) (*loader.Watcher, error) {
	initial := loader.Flags{AutoTrade: cfg.Trading.AutoTrade}
	if b.configPath == "" {
		return loader.Static(initial, b.log), nil
	}
	w, err := loader.NewWatcher(b.configPath, initial, b.log)
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	return w, nil
}

func closeAll(closers []io.Closer, log *slog.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.Warn("close resource failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
