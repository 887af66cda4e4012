// Package reconnect keeps one external session alive with bounded retry
// episodes and periodic proactive refreshes.
package reconnect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roboai/internal/audit"
	"roboai/internal/logger"
	"roboai/internal/metrics"
	"roboai/internal/scheduler"
)

// Callback re-establishes the session. It must be idempotent.
type Callback func(ctx context.Context) error

type Config struct {
	// Interval is the sleep between health passes and the maximum session
	// age before a proactive reconnect.
	Interval   time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Status is a read-only copy of the connection health.
type Status struct {
	Connected       bool       `json:"connected"`
	LastConnectedAt *time.Time `json:"last_connected_at"`
	RetryCount      int        `json:"retry_count"`
	Running         bool       `json:"running"`
}

type Supervisor struct {
	cfg         Config
	callback    Callback
	log         *slog.Logger
	sink        audit.Sink
	owner       string
	nowFn       func() time.Time
	onExhausted func(Status)

	mu              sync.RWMutex
	connected       bool
	lastConnectedAt time.Time
	retryCount      int
	running         bool

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAuditSink records reconnection events under the owning agent's name.
func WithAuditSink(sink audit.Sink, owner string) Option {
	return func(s *Supervisor) {
		s.sink = sink
		s.owner = owner
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// OnExhausted is called after an episode ends without reconnecting.
func OnExhausted(fn func(Status)) Option {
	return func(s *Supervisor) { s.onExhausted = fn }
}

func New(cfg Config, cb Callback, opts ...Option) (*Supervisor, error) {
	if cb == nil {
		return nil, fmt.Errorf("reconnect supervisor requires a callback")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("reconnect interval must be > 0")
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("reconnect max retries must be > 0")
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	s := &Supervisor{
		cfg:      cfg,
		callback: cb,
		log:      logger.L(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = logger.Component(s.log, "reconnect")
	return s, nil
}

// Start spawns the supervision loop once. Repeated calls are ignored. The
// loop ends on Stop or when ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			s.log.Debug("supervisor already running")
			return
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.setRunning(true)
	s.log.Info("supervisor started",
		"interval", s.cfg.Interval,
		"max_retries", s.cfg.MaxRetries,
		"retry_delay", s.cfg.RetryDelay,
	)
	go s.loop(loopCtx, done)
}

// Stop cancels the loop and waits for it to exit.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.setRunning(false)
	if s.done == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("stop reconnect supervisor: %w", ctx.Err())
	}
	s.done = nil
	s.cancel = nil
	s.log.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Connected:  s.connected,
		RetryCount: s.retryCount,
		Running:    s.running,
	}
	if !s.lastConnectedAt.IsZero() {
		at := s.lastConnectedAt
		st.LastConnectedAt = &at
	}
	return st
}

// MarkConnected records a healthy session and resets the retry count.
func (s *Supervisor) MarkConnected() {
	s.mu.Lock()
	s.connected = true
	s.lastConnectedAt = s.nowFn()
	s.retryCount = 0
	s.mu.Unlock()
	metrics.SetConnection(true)
}

// MarkDisconnected flags the session so the next pass runs an episode. The
// retry count is left untouched.
func (s *Supervisor) MarkDisconnected() {
	s.mu.Lock()
	was := s.connected
	s.connected = false
	s.mu.Unlock()
	metrics.SetConnection(false)
	if was {
		s.log.Warn("connection marked disconnected")
	}
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setRunning(false)
	for {
		if !scheduler.Sleep(ctx, s.cfg.Interval) {
			return
		}
		s.pass(ctx)
	}
}

func (s *Supervisor) pass(ctx context.Context) {
	s.mu.RLock()
	connected, last := s.connected, s.lastConnectedAt
	s.mu.RUnlock()

	if !connected {
		s.episode(ctx)
		return
	}
	if s.nowFn().Sub(last) >= s.cfg.Interval {
		s.proactive(ctx)
	}
}

func (s *Supervisor) episode(ctx context.Context) {
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		s.mu.Lock()
		s.retryCount = attempt
		s.mu.Unlock()

		err := s.attempt(ctx)
		if err == nil {
			s.MarkConnected()
			s.log.Info("reconnected", "attempt", attempt)
			metrics.ReconnectAttempts.WithLabelValues("success").Inc()
			s.record(ctx, "reconnected", "", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("reconnect attempt failed", "attempt", attempt, "max_retries", s.cfg.MaxRetries, "error", err)
		metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		s.record(ctx, "attempt_failed", err.Error(), attempt)

		if attempt < s.cfg.MaxRetries && !scheduler.Sleep(ctx, s.cfg.RetryDelay) {
			return
		}
	}

	s.log.Error("reconnection exhausted, will retry next cycle", "max_retries", s.cfg.MaxRetries)
	metrics.ReconnectAttempts.WithLabelValues("exhausted").Inc()
	s.record(ctx, "exhausted", "", s.cfg.MaxRetries)
	s.mu.Lock()
	s.retryCount = 0
	s.mu.Unlock()
	if s.onExhausted != nil {
		s.safeHook(s.Status())
	}
}

// proactive refreshes a session that is still marked connected but older
// than Interval. A failed refresh marks the connection down so the next
// pass runs a full retry episode instead of waiting another Interval.
func (s *Supervisor) proactive(ctx context.Context) {
	s.log.Info("proactive reconnect")
	if err := s.attempt(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("proactive reconnect failed", "error", err)
		metrics.ReconnectAttempts.WithLabelValues("proactive_failure").Inc()
		s.record(ctx, "proactive_failed", err.Error(), 0)
		s.MarkDisconnected()
		return
	}
	metrics.ReconnectAttempts.WithLabelValues("proactive").Inc()
	s.MarkConnected()
}

func (s *Supervisor) attempt(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reconnect callback panic: %v", rec)
		}
	}()
	return s.callback(ctx)
}

func (s *Supervisor) safeHook(st Status) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("exhausted hook panic", "panic", rec)
		}
	}()
	s.onExhausted(st)
}

func (s *Supervisor) record(ctx context.Context, action, reason string, attempt int) {
	audit.Emit(context.WithoutCancel(ctx), s.sink, s.log, audit.Event{
		Kind:   audit.KindReconnect,
		Agent:  s.owner,
		Action: action,
		Reason: reason,
		Detail: map[string]any{"attempt": attempt},
	})
}

func (s *Supervisor) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}
