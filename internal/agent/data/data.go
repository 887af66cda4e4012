// Package data keeps a short-lived quote cache for subscribed symbols,
// refreshed through the shared broker session.
package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"roboai/internal/agent"
	"roboai/internal/audit"
	"roboai/internal/config"
	"roboai/internal/gateway/broker"
	"roboai/internal/logger"
	"roboai/internal/metrics"
	"roboai/internal/pkg/symbol"
	"roboai/internal/scheduler"
)

const (
	Name = "data"

	KindSubscribe   = "subscribe"
	KindUnsubscribe = "unsubscribe"

	fetchConcurrency = 4
)

var ErrNoSession = errors.New("no authenticated broker session")

// SessionFunc resolves the current broker session; it may return nil.
type SessionFunc func() broker.Session

type Options struct {
	Data    config.DataConfig
	Session SessionFunc
	Sink    audit.Sink
	Logger  *slog.Logger
}

type cached struct {
	quote     broker.Quote
	fetchedAt time.Time
}

type Worker struct {
	session  SessionFunc
	exchange string
	ttl      time.Duration
	poll     time.Duration
	initial  []string
	log      *slog.Logger
	nowFn    func() time.Time

	mu          sync.RWMutex
	symbols     map[string]struct{}
	cache       map[string]cached
	lastRefresh time.Time
	lastErrors  int
}

func NewWorker(opts Options) *Worker {
	ttl := opts.Data.CacheTTL()
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	poll := opts.Data.PollInterval()
	if poll <= 0 {
		poll = 5 * time.Second
	}
	exchange := opts.Data.Exchange
	if exchange == "" {
		exchange = "NSE"
	}
	return &Worker{
		session:  opts.Session,
		exchange: exchange,
		ttl:      ttl,
		poll:     poll,
		initial:  opts.Data.Symbols,
		log:      logger.Component(opts.Logger, Name),
		nowFn:    time.Now,
		symbols:  make(map[string]struct{}),
		cache:    make(map[string]cached),
	}
}

func New(opts Options) (*agent.Runtime, *Worker) {
	w := NewWorker(opts)
	return agent.New(Name, w, agent.WithLogger(opts.Logger), agent.WithAuditSink(opts.Sink)), w
}

func (w *Worker) Initialize(context.Context) error {
	w.Subscribe(w.initial...)
	w.log.Info("market data ready", "symbols", len(w.Symbols()), "poll", w.poll, "ttl", w.ttl)
	return nil
}

func (w *Worker) Run(ctx context.Context) error {
	loop := scheduler.NewPeriodic("quote-refresh", w.poll, w.log)
	loop.RunImmediately = true
	loop.Run(ctx, func(ctx context.Context) {
		if err := w.Refresh(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			w.log.Warn("quote refresh incomplete", "error", err)
		}
	})
	return nil
}

// Receive handles subscribe and unsubscribe messages carrying a "symbols"
// payload.
func (w *Worker) Receive(_ context.Context, msg agent.Message) error {
	symbols := symbol.List(msg.Payload["symbols"])
	switch msg.Kind {
	case KindSubscribe:
		w.Subscribe(symbols...)
	case KindUnsubscribe:
		w.Unsubscribe(symbols...)
	default:
		return fmt.Errorf("data agent: unsupported message kind %q", msg.Kind)
	}
	return nil
}

func (w *Worker) Details(context.Context) (map[string]any, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	details := map[string]any{
		"symbols":      len(w.symbols),
		"cached":       len(w.cache),
		"fetch_errors": w.lastErrors,
	}
	if !w.lastRefresh.IsZero() {
		details["last_refresh"] = w.lastRefresh
	}
	return details, nil
}

func (w *Worker) Subscribe(symbols ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range symbols {
		if s = symbol.Normalize(s); s != "" {
			w.symbols[s] = struct{}{}
		}
	}
}

func (w *Worker) Unsubscribe(symbols ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range symbols {
		s = symbol.Normalize(s)
		delete(w.symbols, s)
		delete(w.cache, s)
	}
}

func (w *Worker) Symbols() []string {
	w.mu.RLock()
	out := make([]string, 0, len(w.symbols))
	for s := range w.symbols {
		out = append(out, s)
	}
	w.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Quote serves from the cache while fresh, otherwise asks the broker.
func (w *Worker) Quote(ctx context.Context, sym string) (broker.Quote, error) {
	sym = symbol.Normalize(sym)
	if q, ok := w.fresh(sym, w.ttl); ok {
		return q, nil
	}
	return w.fetch(ctx, sym)
}

// LastPrice returns the cached price if it is recent enough to value a
// position. Prices are never fabricated.
func (w *Worker) LastPrice(sym string) (float64, bool) {
	q, ok := w.fresh(symbol.Normalize(sym), w.staleAfter())
	if !ok || q.LastPrice <= 0 {
		return 0, false
	}
	return q.LastPrice, true
}

// Refresh fetches every subscribed symbol concurrently. Per-symbol failures
// are counted and joined; the cache keeps the last good quote.
func (w *Worker) Refresh(ctx context.Context) error {
	s := w.current()
	if s == nil {
		return ErrNoSession
	}
	symbols := w.Symbols()
	if len(symbols) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if _, err := w.fetchWith(gctx, s, sym); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", sym, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	w.mu.Lock()
	w.lastRefresh = w.nowFn()
	w.lastErrors = len(errs)
	w.mu.Unlock()
	return errors.Join(errs...)
}

func (w *Worker) fetch(ctx context.Context, sym string) (broker.Quote, error) {
	s := w.current()
	if s == nil {
		return broker.Quote{}, ErrNoSession
	}
	return w.fetchWith(ctx, s, sym)
}

func (w *Worker) fetchWith(ctx context.Context, s broker.Session, sym string) (broker.Quote, error) {
	q, err := s.Quote(ctx, sym, w.exchange)
	if err != nil {
		metrics.QuoteFetches.WithLabelValues("error").Inc()
		return broker.Quote{}, err
	}
	metrics.QuoteFetches.WithLabelValues("ok").Inc()
	w.mu.Lock()
	w.cache[sym] = cached{quote: q, fetchedAt: w.nowFn()}
	w.mu.Unlock()
	return q, nil
}

func (w *Worker) fresh(sym string, maxAge time.Duration) (broker.Quote, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.cache[sym]
	if !ok || w.nowFn().Sub(c.fetchedAt) > maxAge {
		return broker.Quote{}, false
	}
	return c.quote, true
}

func (w *Worker) current() broker.Session {
	if w.session == nil {
		return nil
	}
	s := w.session()
	if s == nil || !s.IsAuthenticated() {
		return nil
	}
	return s
}

func (w *Worker) staleAfter() time.Duration {
	if w.poll > w.ttl {
		return 2 * w.poll
	}
	return 2 * w.ttl
}
