package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"roboai/internal/audit"
	"roboai/internal/config"
	"roboai/internal/gateway/broker"
	"roboai/internal/gateway/notifier"
	"roboai/internal/logger"
	"roboai/internal/metrics"
	"roboai/internal/pkg/circuit"
	"roboai/internal/scheduler"
	"roboai/internal/store"
)

const (
	agentName       = "execution"
	maxOrderHistory = 1000
)

// PriceSource supplies current prices for unrealized PnL and paper fills.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

type Options struct {
	Trading config.TradingConfig
	Risk    config.RiskConfig
	// AutoTrade is consulted on every PlaceOrder; nil falls back to
	// Trading.AutoTrade.
	AutoTrade func() bool
	// Broker resolves the live session; required in live mode only.
	Broker func() broker.Session
	// Prices feeds unrealized PnL and live fills missing a price. Paper
	// fills consult it only when Trading.PaperUseLastPrice is set, so by
	// default a priceless paper order always fills at PaperFillPrice.
	Prices   PriceSource
	Store    store.Store
	Notifier notifier.TextNotifier
	Sink     audit.Sink
	Clock    *scheduler.SessionClock
	Logger   *slog.Logger
}

// Core is the risk-gated ledger. One mutex covers the gate sequence, the
// broker call and the ledger update so concurrent callers are serialized.
type Core struct {
	opts    Options
	mode    string
	log     *slog.Logger
	clock   *scheduler.SessionClock
	breaker *circuit.Breaker
	idFn    func() string

	mu           sync.Mutex
	ledger       *ledger
	orders       map[string]*Order
	history      []string
	session      string
	lossNotified bool
	warnNotified bool
}

func NewCore(opts Options) (*Core, error) {
	mode := config.ModePaper
	if opts.Trading.IsLive() {
		mode = config.ModeLive
		if opts.Broker == nil {
			return nil, fmt.Errorf("live trading requires a broker session")
		}
	}
	if opts.Trading.MaxPositions <= 0 {
		return nil, fmt.Errorf("max_positions must be > 0")
	}
	if !usablePrice(opts.Risk.MaxDailyLoss) {
		return nil, fmt.Errorf("max_daily_loss must be a finite number > 0")
	}
	if math.IsNaN(opts.Risk.WarningRatio) || math.IsInf(opts.Risk.WarningRatio, 0) {
		return nil, fmt.Errorf("warning_ratio must be finite")
	}
	if opts.AutoTrade == nil {
		on := opts.Trading.AutoTrade
		opts.AutoTrade = func() bool { return on }
	}
	if opts.Notifier == nil {
		opts.Notifier = notifier.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.NewSessionClock(time.Local, 0)
	}
	log := logger.Component(opts.Logger, agentName).With("mode", mode)
	c := &Core{
		opts:    opts,
		mode:    mode,
		log:     log,
		clock:   opts.Clock,
		breaker: circuit.New("broker-orders", opts.Risk.BreakerThreshold, opts.Risk.BreakerCooldownDuration(), opts.Logger),
		idFn:    paperOrderID,
		ledger:  newLedger(),
		orders:  make(map[string]*Order),
	}
	c.session = c.clock.SessionKey(c.clock.Now())
	return c, nil
}

func (c *Core) Mode() string { return c.mode }

func (c *Core) AutoTradeEnabled() bool { return c.opts.AutoTrade() }

// PlaceOrder runs the gates in order and books the fill. A *RejectError
// means a gate refused the intent and nothing changed; any other error is
// an operational failure. When the broker booked an order but the record
// could not be written the order is returned together with ErrRecordFailed.
func (c *Core) PlaceOrder(ctx context.Context, req Request) (Order, error) {
	req = req.normalized(c.opts.Trading.DefaultExchange)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := req.validate(); err != nil {
		return Order{}, c.reject(ctx, req, "invalid_order", ErrInvalidOrder, err.Error())
	}
	c.rollSessionLocked()

	if !c.opts.AutoTrade() {
		return Order{}, c.reject(ctx, req, "auto_trade_disabled", ErrAutoTradeDisabled, "")
	}
	if err := c.checkRiskLocked(ctx, req); err != nil {
		return Order{}, err
	}
	if req.Side == SideBuy && c.ledger.held(req.Symbol) == 0 && c.ledger.open() >= c.opts.Trading.MaxPositions {
		return Order{}, c.reject(ctx, req, "max_positions", ErrMaxPositions,
			fmt.Sprintf("%d/%d symbols open", c.ledger.open(), c.opts.Trading.MaxPositions))
	}
	if req.Side == SideSell {
		if held := c.ledger.held(req.Symbol); req.Quantity > held {
			return Order{}, c.reject(ctx, req, "insufficient_position", ErrInsufficientPosition,
				fmt.Sprintf("held %d, sell %d", held, req.Quantity))
		}
	}

	if c.mode == config.ModeLive {
		return c.placeLive(ctx, req)
	}
	return c.placePaper(ctx, req)
}

func (c *Core) checkRiskLocked(ctx context.Context, req Request) error {
	limit := decimal.NewFromFloat(c.opts.Risk.MaxDailyLoss)
	daily := c.ledger.daily
	if daily.LessThan(limit.Neg()) {
		c.log.Error("daily loss limit reached", "daily_pnl", daily.InexactFloat64(), "limit", c.opts.Risk.MaxDailyLoss)
		if !c.lossNotified {
			c.lossNotified = true
			c.alert(notifier.LevelCritical, "Daily loss limit reached", daily)
		}
		return c.reject(ctx, req, "daily_loss_limit", ErrDailyLossLimit,
			fmt.Sprintf("daily_pnl %s below -%s", daily.StringFixed(2), limit.StringFixed(2)))
	}
	if c.opts.Risk.CircuitBreakerEnabled {
		warnAt := limit.Mul(decimal.NewFromFloat(c.opts.Risk.WarningRatio)).Neg()
		if daily.LessThan(warnAt) {
			c.log.Warn("approaching daily loss limit", "daily_pnl", daily.InexactFloat64(), "limit", c.opts.Risk.MaxDailyLoss)
			if !c.warnNotified {
				c.warnNotified = true
				c.alert(notifier.LevelWarn, "Approaching daily loss limit", daily)
			}
		}
	}
	return nil
}

func (c *Core) placePaper(ctx context.Context, req Request) (Order, error) {
	fill := req.Price
	if !usablePrice(fill) && c.opts.Trading.PaperUseLastPrice && c.opts.Prices != nil {
		if p, ok := c.opts.Prices.LastPrice(req.Symbol); ok {
			fill = p
		}
	}
	if !usablePrice(fill) {
		fill = c.opts.Trading.PaperFillPrice
	}
	if !usablePrice(fill) {
		return Order{}, c.reject(ctx, req, "no_price", ErrInvalidOrder, "no usable fill price")
	}
	order := c.newOrder(req, c.idFn())
	order.Status = StatusFilled
	order.FilledPrice = fill
	order.FilledQuantity = req.Quantity

	ch := c.ledger.plan(req.Symbol, req.Exchange, req.Side, req.Quantity, fill)
	if err := c.persist(ctx, order, &ch); err != nil {
		c.log.Error("paper order not booked, record failed", "symbol", req.Symbol, "error", err)
		metrics.Orders.WithLabelValues(c.mode, string(req.Side), "record_failed").Inc()
		return Order{}, fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}
	c.ledger.commit(ch)
	c.booked(ctx, order, ch)
	return order, nil
}

func (c *Core) placeLive(ctx context.Context, req Request) (Order, error) {
	var session broker.Session
	if c.opts.Broker != nil {
		session = c.opts.Broker()
	}
	if session == nil || !session.IsAuthenticated() {
		c.log.Error("cannot place live order: broker not authenticated", "symbol", req.Symbol)
		metrics.Orders.WithLabelValues(c.mode, string(req.Side), "unavailable").Inc()
		return Order{}, ErrBrokerUnavailable
	}

	var ack broker.OrderAck
	err := c.breaker.Do(func() error {
		var err error
		ack, err = session.PlaceOrder(ctx, broker.OrderRequest{
			Symbol:    req.Symbol,
			Exchange:  req.Exchange,
			Side:      string(req.Side),
			Quantity:  req.Quantity,
			OrderType: string(req.OrderType),
			Price:     req.Price,
			Tag:       req.Strategy,
		})
		return err
	})
	if err != nil {
		c.log.Error("live order failed", "symbol", req.Symbol, "side", req.Side, "error", err)
		metrics.Orders.WithLabelValues(c.mode, string(req.Side), "error").Inc()
		c.emitOrder(ctx, req, "broker_error", err.Error(), nil)
		if errors.Is(err, circuit.ErrOpen) {
			return Order{}, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
		}
		return Order{}, err
	}
	if strings.TrimSpace(ack.OrderID) == "" {
		c.log.Warn("broker returned no order id", "symbol", req.Symbol, "message", ack.Message)
		metrics.Orders.WithLabelValues(c.mode, string(req.Side), "no_id").Inc()
		return Order{}, fmt.Errorf("%w: %s", ErrBrokerRejected, ack.Message)
	}

	order := c.newOrder(req, ack.OrderID)
	order.Status = liveStatus(ack)
	var ch *change
	if order.Status == StatusFilled {
		order.FilledQuantity = min(max(ack.FilledQuantity, 0), req.Quantity)
		if order.FilledQuantity == 0 {
			order.FilledQuantity = req.Quantity
		}
		order.FilledPrice = c.livePrice(ack, req)
		if order.FilledPrice > 0 {
			planned := c.ledger.plan(req.Symbol, req.Exchange, req.Side, order.FilledQuantity, order.FilledPrice)
			c.ledger.commit(planned)
			ch = &planned
		} else {
			c.log.Warn("filled ack without price, recorded as pending", "order_id", order.OrderID)
			order.Status = StatusPending
		}
	}

	var recordErr error
	if err := c.persist(ctx, order, ch); err != nil {
		c.log.Error("live order booked but not recorded", "order_id", order.OrderID, "error", err)
		recordErr = fmt.Errorf("%w: %v", ErrRecordFailed, err)
	}
	if ch != nil {
		c.booked(ctx, order, *ch)
	} else {
		c.track(order)
		metrics.Orders.WithLabelValues(c.mode, string(order.Side), strings.ToLower(string(order.Status))).Inc()
		c.emitOrder(ctx, req, "recorded", string(order.Status), map[string]any{"order_id": order.OrderID})
		c.log.Info("live order recorded", "order_id", order.OrderID, "status", order.Status)
	}
	return order, recordErr
}

func (c *Core) livePrice(ack broker.OrderAck, req Request) float64 {
	if usablePrice(ack.FilledPrice) {
		return ack.FilledPrice
	}
	if usablePrice(req.Price) {
		return req.Price
	}
	if c.opts.Prices != nil {
		if p, ok := c.opts.Prices.LastPrice(req.Symbol); ok && usablePrice(p) {
			return p
		}
	}
	return 0
}

func liveStatus(ack broker.OrderAck) Status {
	if ack.Filled() {
		return StatusFilled
	}
	switch ack.Status {
	case "REJECTED":
		return StatusRejected
	case "CANCELLED", "CANCELED":
		return StatusCancelled
	}
	return StatusPending
}

func (c *Core) newOrder(req Request, id string) Order {
	return Order{
		OrderID:   id,
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Side:      req.Side,
		Quantity:  req.Quantity,
		OrderType: req.OrderType,
		Price:     req.Price,
		Mode:      c.mode,
		Strategy:  req.Strategy,
		Reason:    req.Reason,
		Source:    req.Source,
		Timestamp: c.clock.Now(),
	}
}

func (c *Core) booked(ctx context.Context, order Order, ch change) {
	c.track(order)
	metrics.Orders.WithLabelValues(c.mode, string(order.Side), strings.ToLower(string(order.Status))).Inc()
	metrics.OpenPositions.Set(float64(c.ledger.open()))
	c.emitOrder(ctx, Request{Symbol: order.Symbol, Side: order.Side}, "filled", "", map[string]any{
		"order_id":     order.OrderID,
		"quantity":     order.FilledQuantity,
		"price":        order.FilledPrice,
		"realized_pnl": ch.realized.InexactFloat64(),
	})
	c.log.Info("order filled",
		"order_id", order.OrderID,
		"symbol", order.Symbol,
		"side", order.Side,
		"quantity", order.FilledQuantity,
		"price", order.FilledPrice,
		"realized_pnl", ch.realized.InexactFloat64(),
		"daily_pnl", c.ledger.daily.InexactFloat64(),
	)
}

func (c *Core) track(order Order) {
	o := order
	c.orders[o.OrderID] = &o
	c.history = append(c.history, o.OrderID)
	if len(c.history) > maxOrderHistory {
		drop := c.history[0]
		c.history = c.history[1:]
		delete(c.orders, drop)
	}
}

func (c *Core) reject(ctx context.Context, req Request, reason string, cause error, detail string) error {
	attrs := []any{"symbol", req.Symbol, "side", req.Side, "quantity", req.Quantity, "reason", reason}
	if detail != "" {
		attrs = append(attrs, "detail", detail)
	}
	if reason == "auto_trade_disabled" {
		c.log.Info("order not placed", attrs...)
	} else {
		c.log.Warn("order rejected", attrs...)
	}
	metrics.Rejections.WithLabelValues(reason).Inc()
	audit.Emit(context.WithoutCancel(ctx), c.opts.Sink, c.log, audit.Event{
		Kind:   audit.KindRejection,
		Agent:  agentName,
		Symbol: req.Symbol,
		Action: string(req.Side),
		Reason: reason,
		Detail: map[string]any{"quantity": req.Quantity, "detail": detail},
	})
	return &RejectError{Reason: reason, Err: cause, Detail: detail}
}

func (c *Core) emitOrder(ctx context.Context, req Request, action, reason string, detail map[string]any) {
	audit.Emit(context.WithoutCancel(ctx), c.opts.Sink, c.log, audit.Event{
		Kind:   audit.KindOrder,
		Agent:  agentName,
		Symbol: req.Symbol,
		Action: action,
		Reason: reason,
		Detail: detail,
	})
}

func (c *Core) alert(level notifier.Level, title string, daily decimal.Decimal) {
	notifier.Send(c.opts.Notifier, c.log, notifier.StructuredMessage{
		Level: level,
		Title: title,
		Sections: []notifier.Section{{Lines: []string{
			notifier.Field("mode", c.mode),
			notifier.Field("daily_pnl", daily.StringFixed(2)),
			notifier.Field("max_daily_loss", c.opts.Risk.MaxDailyLoss),
			notifier.Field("session", c.session),
		}}},
		Timestamp: c.clock.Now(),
	})
}

// Positions lists open positions sorted by symbol.
func (c *Core) Positions() []Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Position, 0, c.ledger.open())
	for _, sym := range c.ledger.symbols() {
		p := c.ledger.positions[sym]
		pos := Position{
			Symbol:      sym,
			Exchange:    p.exchange,
			Quantity:    p.qty,
			AvgPrice:    p.avg.InexactFloat64(),
			RealizedPnL: p.realized.InexactFloat64(),
		}
		if last, ok := c.lastPrice(sym); ok {
			u := last.Sub(p.avg).Mul(decimal.NewFromInt(p.qty)).InexactFloat64()
			lp := last.InexactFloat64()
			pos.LastPrice, pos.UnrealizedPnL = &lp, &u
		}
		out = append(out, pos)
	}
	return out
}

// PnL values open positions with the price source. Positions without a
// current price contribute nothing to Unrealized.
func (c *Core) PnL() PnL {
	c.mu.Lock()
	defer c.mu.Unlock()
	unrealized := decimal.Zero
	priced := 0
	for sym, p := range c.ledger.positions {
		last, ok := c.lastPrice(sym)
		if !ok {
			continue
		}
		priced++
		unrealized = unrealized.Add(last.Sub(p.avg).Mul(decimal.NewFromInt(p.qty)))
	}
	return PnL{
		Realized:   c.ledger.realized.InexactFloat64(),
		Unrealized: unrealized.InexactFloat64(),
		Total:      c.ledger.realized.Add(unrealized).InexactFloat64(),
		Daily:      c.ledger.daily.InexactFloat64(),
		Priced:     priced,
		Open:       c.ledger.open(),
		Session:    c.session,
	}
}

func (c *Core) lastPrice(symbol string) (decimal.Decimal, bool) {
	if c.opts.Prices == nil {
		return decimal.Zero, false
	}
	p, ok := c.opts.Prices.LastPrice(symbol)
	if !ok || !usablePrice(p) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(p), true
}

func (c *Core) Order(id string) (Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns up to limit orders, newest first. limit <= 0 returns all
// retained orders.
func (c *Core) Orders(limit int) []Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Order, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *c.orders[c.history[i]])
	}
	return out
}

// ResetDaily zeroes the daily PnL and re-arms the loss alerts.
func (c *Core) ResetDaily() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetDailyLocked()
}

// RollSession resets the daily counters when the trading session changed.
func (c *Core) RollSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollSessionLocked()
}

func (c *Core) rollSessionLocked() bool {
	key := c.clock.SessionKey(c.clock.Now())
	if key == c.session {
		return false
	}
	c.log.Info("trading session changed, daily pnl reset", "from", c.session, "to", key, "daily_pnl", c.ledger.daily.InexactFloat64())
	c.session = key
	c.resetDailyLocked()
	return true
}

func (c *Core) resetDailyLocked() {
	c.ledger.resetDaily()
	c.lossNotified = false
	c.warnNotified = false
}

// PublishMetrics pushes the current ledger view to the gauges.
func (c *Core) PublishMetrics() PnL {
	pnl := c.PnL()
	metrics.PnL.WithLabelValues("realized").Set(pnl.Realized)
	metrics.PnL.WithLabelValues("unrealized").Set(pnl.Unrealized)
	metrics.PnL.WithLabelValues("daily").Set(pnl.Daily)
	metrics.PnL.WithLabelValues("total").Set(pnl.Total)
	metrics.OpenPositions.Set(float64(pnl.Open))
	return pnl
}

// BreakerState exposes the broker order breaker for health output.
func (c *Core) BreakerState() string { return c.breaker.State().String() }

func paperOrderID() string {
	return "PAPER_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
