// Package auth owns the broker session: it authenticates once on start and
// hands recovery to a reconnect supervisor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roboai/internal/agent"
	"roboai/internal/audit"
	"roboai/internal/config"
	"roboai/internal/gateway/broker"
	"roboai/internal/gateway/notifier"
	"roboai/internal/logger"
	"roboai/internal/reconnect"
	"roboai/internal/scheduler"
)

const Name = "auth"

var ErrMissingCredentials = errors.New("broker credentials missing: api_key, api_secret and totp_secret are required")

// SessionFactory builds the broker session from configuration.
type SessionFactory func(cfg config.BrokerConfig) (broker.Session, error)

type Options struct {
	Broker   config.BrokerConfig
	Network  config.NetworkConfig
	Factory  SessionFactory
	Notifier notifier.TextNotifier
	Sink     audit.Sink
	Logger   *slog.Logger
}

type Worker struct {
	opts      Options
	log       *slog.Logger
	reconnect reconnect.Config
	poll      time.Duration

	mu         sync.RWMutex
	session    broker.Session
	supervisor *reconnect.Supervisor
}

func NewWorker(opts Options) *Worker {
	if opts.Notifier == nil {
		opts.Notifier = notifier.Nop()
	}
	poll := opts.Network.HealthPoll()
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &Worker{
		opts: opts,
		log:  logger.Component(opts.Logger, Name),
		reconnect: reconnect.Config{
			Interval:   opts.Network.ReconnectInterval(),
			MaxRetries: opts.Network.MaxRetries,
			RetryDelay: opts.Network.RetryDelay(),
		},
		poll: poll,
	}
}

// New wraps the worker in an agent runtime.
func New(opts Options) (*agent.Runtime, *Worker) {
	w := NewWorker(opts)
	rt := agent.New(Name, w, agent.WithLogger(opts.Logger), agent.WithAuditSink(opts.Sink))
	return rt, w
}

func (w *Worker) Initialize(ctx context.Context) error {
	if !w.opts.Broker.HasCredentials() {
		return ErrMissingCredentials
	}
	if w.opts.Factory == nil {
		return fmt.Errorf("no broker session factory configured")
	}

	w.mu.Lock()
	session := w.session
	w.mu.Unlock()
	if session == nil {
		s, err := w.opts.Factory(w.opts.Broker)
		if err != nil {
			return fmt.Errorf("build broker session: %w", err)
		}
		session = s
	}
	if err := session.Authenticate(ctx); err != nil {
		return fmt.Errorf("initial broker login: %w", err)
	}

	sup, err := reconnect.New(w.reconnect, session.Authenticate,
		reconnect.WithLogger(w.opts.Logger),
		reconnect.WithAuditSink(w.opts.Sink, Name),
		reconnect.OnExhausted(w.exhausted),
	)
	if err != nil {
		return err
	}
	sup.MarkConnected()

	w.mu.Lock()
	w.session = session
	w.supervisor = sup
	w.mu.Unlock()
	w.log.Info("broker session ready", "broker", w.opts.Broker.Name)
	return nil
}

// Run starts the supervisor and flags the session as disconnected whenever
// it stops reporting authenticated. Re-authentication is left to the
// supervisor.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.RLock()
	sup, session := w.supervisor, w.session
	w.mu.RUnlock()
	if sup == nil || session == nil {
		return fmt.Errorf("auth worker not initialized")
	}
	sup.Start(ctx)

	for scheduler.Sleep(ctx, w.poll) {
		if !session.IsAuthenticated() {
			sup.MarkDisconnected()
		}
	}
	return nil
}

func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.RLock()
	sup, session := w.supervisor, w.session
	w.mu.RUnlock()

	var errs []error
	if sup != nil {
		if err := sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if session != nil {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker session: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) Details(context.Context) (map[string]any, error) {
	w.mu.RLock()
	sup, session := w.supervisor, w.session
	w.mu.RUnlock()
	details := map[string]any{
		"broker":        w.opts.Broker.Name,
		"authenticated": session != nil && session.IsAuthenticated(),
	}
	if sup != nil {
		details["connection"] = sup.Status()
	}
	return details, nil
}

// Client returns the broker session, or nil before the first successful
// Initialize.
func (w *Worker) Client() broker.Session {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

func (w *Worker) IsAuthenticated() bool {
	s := w.Client()
	return s != nil && s.IsAuthenticated()
}

// Connection reports the supervisor view of the session.
func (w *Worker) Connection() (reconnect.Status, bool) {
	w.mu.RLock()
	sup := w.supervisor
	w.mu.RUnlock()
	if sup == nil {
		return reconnect.Status{}, false
	}
	return sup.Status(), true
}

func (w *Worker) exhausted(st reconnect.Status) {
	lines := []string{
		notifier.Field("broker", w.opts.Broker.Name),
		notifier.Field("max_retries", w.opts.Network.MaxRetries),
	}
	if st.LastConnectedAt != nil {
		lines = append(lines, notifier.Field("last_connected", st.LastConnectedAt.Format(time.RFC3339)))
	}
	notifier.Send(w.opts.Notifier, w.log, notifier.StructuredMessage{
		Level:     notifier.LevelCritical,
		Title:     "Broker reconnection failed",
		Sections:  []notifier.Section{{Lines: lines}},
		Footer:    "Retrying on the next cycle.",
		Timestamp: time.Now(),
	})
}
