// Package execution runs the execution core as an agent: it checks the
// broker in live mode, publishes PnL and rolls the trading session.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"

	"roboai/internal/agent"
	"roboai/internal/audit"
	"roboai/internal/config"
	"roboai/internal/execution"
	"roboai/internal/gateway/broker"
	"roboai/internal/logger"
	"roboai/internal/scheduler"
)

const (
	Name = "execution"

	KindPlaceOrder = "place_order"
	KindResetDaily = "reset_daily"
)

type Options struct {
	Core    *execution.Core
	Trading config.TradingConfig
	Broker  func() broker.Session
	Sink    audit.Sink
	Logger  *slog.Logger
}

type Worker struct {
	core    *execution.Core
	trading config.TradingConfig
	broker  func() broker.Session
	log     *slog.Logger
	monitor time.Duration
}

func NewWorker(opts Options) *Worker {
	monitor := opts.Trading.MonitorInterval()
	if monitor <= 0 {
		monitor = 10 * time.Second
	}
	return &Worker{
		core:    opts.Core,
		trading: opts.Trading,
		broker:  opts.Broker,
		log:     logger.Component(opts.Logger, Name),
		monitor: monitor,
	}
}

func New(opts Options) (*agent.Runtime, *Worker) {
	w := NewWorker(opts)
	return agent.New(Name, w, agent.WithLogger(opts.Logger), agent.WithAuditSink(opts.Sink)), w
}

func (w *Worker) Core() *execution.Core { return w.core }

func (w *Worker) Initialize(ctx context.Context) error {
	if w.core == nil {
		return fmt.Errorf("execution core not configured")
	}
	w.log.Info("execution agent initialized", "mode", w.core.Mode(), "auto_trade", w.core.AutoTradeEnabled())
	if w.core.Mode() != config.ModeLive {
		return nil
	}
	var session broker.Session
	if w.broker != nil {
		session = w.broker()
	}
	if session == nil {
		return fmt.Errorf("live trading requires a broker session")
	}
	if !session.IsAuthenticated() {
		w.log.Warn("broker session not yet authenticated, positions not loaded")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	positions, err := session.Positions(ctx)
	if err != nil {
		w.log.Warn("load broker positions failed", "error", err)
		return nil
	}
	w.log.Info("broker positions loaded", "count", len(positions))
	return nil
}

func (w *Worker) Run(ctx context.Context) error {
	loop := scheduler.NewPeriodic("execution-monitor", w.monitor, w.log)
	loop.RunImmediately = true
	loop.Run(ctx, func(context.Context) {
		if w.core.RollSession() {
			w.log.Info("daily pnl reset for new session")
		}
		pnl := w.core.PublishMetrics()
		w.log.Debug("ledger snapshot",
			"open", pnl.Open,
			"realized", pnl.Realized,
			"unrealized", pnl.Unrealized,
			"daily", pnl.Daily,
		)
	})
	return nil
}

// Receive accepts order intents from other agents.
func (w *Worker) Receive(ctx context.Context, msg agent.Message) error {
	switch msg.Kind {
	case KindPlaceOrder:
		req, err := decodeRequest(msg.Payload)
		if err != nil {
			return err
		}
		if req.Source == "" {
			req.Source = msg.From
		}
		_, err = w.core.PlaceOrder(ctx, req)
		return err
	case KindResetDaily:
		w.core.ResetDaily()
		return nil
	default:
		return fmt.Errorf("execution agent: unsupported message kind %q", msg.Kind)
	}
}

func (w *Worker) Details(context.Context) (map[string]any, error) {
	pnl := w.core.PnL()
	return map[string]any{
		"mode":           w.core.Mode(),
		"auto_trade":     w.core.AutoTradeEnabled(),
		"breaker":        w.core.BreakerState(),
		"open_positions": pnl.Open,
		"daily_pnl":      pnl.Daily,
		"realized_pnl":   pnl.Realized,
	}, nil
}

func decodeRequest(payload map[string]any) (execution.Request, error) {
	var req execution.Request
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &req,
	})
	if err != nil {
		return req, err
	}
	if err := dec.Decode(payload); err != nil {
		return req, fmt.Errorf("decode order payload: %w", err)
	}
	return req, nil
}
