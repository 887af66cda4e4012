package execution

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roboai/internal/audit"
	"roboai/internal/config"
	"roboai/internal/gateway/broker"
	"roboai/internal/logger"
	"roboai/internal/scheduler"
	"roboai/internal/store"
	"roboai/internal/store/gormdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixedPrices map[string]float64

func (p fixedPrices) LastPrice(symbol string) (float64, bool) {
	v, ok := p[symbol]
	return v, ok
}

type liveSession struct {
	mock.Mock
	authed atomic.Bool
}

func (s *liveSession) Authenticate(context.Context) error { return nil }
func (s *liveSession) IsAuthenticated() bool             { return s.authed.Load() }
func (s *liveSession) Close() error                      { return nil }

func (s *liveSession) Quote(context.Context, string, string) (broker.Quote, error) {
	return broker.Quote{}, nil
}

func (s *liveSession) Positions(context.Context) ([]broker.Position, error) { return nil, nil }

func (s *liveSession) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	args := s.Called(req.Symbol, req.Side, req.Quantity)
	return args.Get(0).(broker.OrderAck), args.Error(1)
}

type brokenStore struct{}

func (brokenStore) Begin(context.Context) (store.UnitOfWork, error) {
	return nil, errors.New("disk full")
}
func (brokenStore) Close() error { return nil }

type toggle struct{ on atomic.Bool }

func (t *toggle) get() bool { return t.on.Load() }

func paperOptions() Options {
	return Options{
		Trading: config.TradingConfig{Mode: config.ModePaper, AutoTrade: true, MaxPositions: 2, PaperFillPrice: 1000, DefaultExchange: "NSE"},
		Risk:    config.RiskConfig{MaxDailyLoss: 1000, WarningRatio: 0.8, CircuitBreakerEnabled: true, BreakerThreshold: 2, BreakerCooldown: 60},
		Logger:  logger.Nop(),
	}
}

func newCore(t *testing.T, opts Options) *Core {
	t.Helper()
	c, err := NewCore(opts)
	require.NoError(t, err)
	return c
}

func buy(symbol string, qty int64, price float64) Request {
	return Request{Symbol: symbol, Side: SideBuy, Quantity: qty, OrderType: OrderMarket, Price: price}
}

func sell(symbol string, qty int64, price float64) Request {
	return Request{Symbol: symbol, Side: SideSell, Quantity: qty, OrderType: OrderMarket, Price: price}
}

func mustPlace(t *testing.T, c *Core, req Request) Order {
	t.Helper()
	o, err := c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	return o
}

func TestNewCoreValidates(t *testing.T) {
	opts := paperOptions()
	opts.Trading.Mode = config.ModeLive
	_, err := NewCore(opts)
	assert.Error(t, err)

	opts = paperOptions()
	opts.Trading.MaxPositions = 0
	_, err = NewCore(opts)
	assert.Error(t, err)
}

func TestRoundTripRealizesExactly(t *testing.T) {
	c := newCore(t, paperOptions())
	o := mustPlace(t, c, buy("infy", 10, 1500.40))
	assert.True(t, strings.HasPrefix(o.OrderID, "PAPER_"))
	assert.Len(t, o.OrderID, len("PAPER_")+8)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, "INFY", o.Symbol)
	assert.Equal(t, "NSE", o.Exchange)

	mustPlace(t, c, sell("INFY", 10, 1512.15))
	pnl := c.PnL()
	assert.InDelta(t, 117.5, pnl.Realized, 1e-9)
	assert.InDelta(t, 117.5, pnl.Daily, 1e-9)
	assert.Empty(t, c.Positions())
}

func TestPartialCloseAndAverage(t *testing.T) {
	c := newCore(t, paperOptions())
	mustPlace(t, c, buy("TCS", 10, 100))
	mustPlace(t, c, sell("TCS", 4, 110))

	pos := c.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, int64(6), pos[0].Quantity)
	assert.Equal(t, 100.0, pos[0].AvgPrice)
	assert.Equal(t, 40.0, c.PnL().Realized)

	c2 := newCore(t, paperOptions())
	mustPlace(t, c2, buy("SBIN", 10, 100))
	mustPlace(t, c2, buy("SBIN", 10, 120))
	pos = c2.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, int64(20), pos[0].Quantity)
	assert.Equal(t, 110.0, pos[0].AvgPrice)
}

func TestAutoTradeDisabledNeverMutates(t *testing.T) {
	sw := &toggle{}
	sw.on.Store(true)
	opts := paperOptions()
	opts.AutoTrade = sw.get
	c := newCore(t, opts)
	mustPlace(t, c, buy("A", 5, 10))
	mustPlace(t, c, sell("A", 5, 8))
	before := c.PnL()

	sw.on.Store(false)
	for _, req := range []Request{buy("A", 1, 10), buy("B", 3, 50), sell("A", 1, 9)} {
		_, err := c.PlaceOrder(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAutoTradeDisabled)
		assert.True(t, IsRejection(err))
		assert.Equal(t, "auto_trade_disabled", RejectReason(err))
	}
	assert.Equal(t, before, c.PnL())
	assert.Empty(t, c.Positions())

	sw.on.Store(true)
	mustPlace(t, c, buy("A", 1, 10))
}

func TestMaxPositionsGate(t *testing.T) {
	c := newCore(t, paperOptions())
	mustPlace(t, c, buy("A", 10, 10))
	mustPlace(t, c, buy("B", 10, 10))

	_, err := c.PlaceOrder(context.Background(), buy("C", 1, 10))
	assert.ErrorIs(t, err, ErrMaxPositions)

	mustPlace(t, c, buy("A", 5, 12))
	mustPlace(t, c, sell("B", 10, 11))
	mustPlace(t, c, buy("C", 1, 10))
	assert.Len(t, c.Positions(), 2)
}

func TestSellBeyondHoldingRejected(t *testing.T) {
	c := newCore(t, paperOptions())
	_, err := c.PlaceOrder(context.Background(), sell("A", 1, 10))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	mustPlace(t, c, buy("A", 3, 10))
	_, err = c.PlaceOrder(context.Background(), sell("A", 4, 10))
	assert.ErrorIs(t, err, ErrInsufficientPosition)
	assert.Equal(t, int64(3), c.Positions()[0].Quantity)
}

func TestInvalidRequests(t *testing.T) {
	c := newCore(t, paperOptions())
	cases := []Request{
		{Symbol: "", Side: SideBuy, Quantity: 1},
		{Symbol: "A", Side: "HOLD", Quantity: 1},
		{Symbol: "A", Side: SideBuy, Quantity: 0},
		{Symbol: "A", Side: SideBuy, Quantity: 1, OrderType: OrderLimit},
		{Symbol: "A", Side: SideBuy, Quantity: 1, OrderType: "STOP"},
	}
	for _, req := range cases {
		_, err := c.PlaceOrder(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidOrder, "%+v", req)
	}
	mustPlace(t, c, Request{Symbol: "A", Side: "buy", Quantity: 1, OrderType: "limit", Price: 5})
}

func TestSymbolQualifiers(t *testing.T) {
	c := newCore(t, paperOptions())
	o := mustPlace(t, c, Request{Symbol: "bse:sbin-eq", Side: SideBuy, Quantity: 1, Price: 600})
	assert.Equal(t, "SBIN", o.Symbol)
	assert.Equal(t, "BSE", o.Exchange)

	o = mustPlace(t, c, Request{Symbol: "sbin.ns", Exchange: "nse", Side: SideSell, Quantity: 1, Price: 601})
	assert.Equal(t, "SBIN", o.Symbol)
	assert.Equal(t, "NSE", o.Exchange)
	assert.Empty(t, c.Positions())
}

func TestDailyLossGate(t *testing.T) {
	sink := audit.NewMemory()
	n := &countingNotifier{}
	opts := paperOptions()
	opts.Sink = sink
	opts.Notifier = n
	c := newCore(t, opts)

	// -850 is inside the warning zone and still trades.
	mustPlace(t, c, buy("A", 10, 100))
	mustPlace(t, c, sell("A", 10, 15))
	mustPlace(t, c, buy("A", 1, 100))
	assert.Equal(t, 1, n.count())

	// -1050 crosses the ceiling.
	mustPlace(t, c, buy("B", 10, 100))
	mustPlace(t, c, sell("B", 10, 80))
	assert.InDelta(t, -1050, c.PnL().Daily, 1e-9)

	_, err := c.PlaceOrder(context.Background(), buy("C", 1, 10))
	assert.ErrorIs(t, err, ErrDailyLossLimit)
	_, err = c.PlaceOrder(context.Background(), sell("A", 1, 100))
	assert.ErrorIs(t, err, ErrDailyLossLimit)
	assert.Equal(t, 2, n.count(), "ceiling alert is sent once")

	rej := sink.Filter(audit.KindRejection)
	require.Len(t, rej, 2)
	assert.Equal(t, "daily_loss_limit", rej[0].Reason)

	c.ResetDaily()
	mustPlace(t, c, buy("C", 1, 10))
	assert.InDelta(t, -1050, c.PnL().Realized, 1e-9)
}

func TestSessionRollResetsDaily(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	clock := scheduler.NewSessionClock(time.UTC, 0).WithNow(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	opts := paperOptions()
	opts.Clock = clock
	c := newCore(t, opts)
	mustPlace(t, c, buy("A", 20, 100))
	mustPlace(t, c, sell("A", 20, 0.01))
	_, err := c.PlaceOrder(context.Background(), buy("A", 1, 1))
	require.ErrorIs(t, err, ErrDailyLossLimit)

	mu.Lock()
	now = now.Add(12 * time.Hour)
	mu.Unlock()
	mustPlace(t, c, buy("A", 1, 1))
	pnl := c.PnL()
	assert.Zero(t, pnl.Daily)
	assert.Equal(t, "2026-10-17", pnl.Session)
	assert.False(t, c.RollSession())
}

func TestPaperFillPriceFallbacks(t *testing.T) {
	opts := paperOptions()
	opts.Prices = fixedPrices{"INFY": 1490}
	c := newCore(t, opts)

	o := mustPlace(t, c, buy("INFY", 1, 0))
	assert.Equal(t, 1000.0, o.FilledPrice, "placeholder unless last price is enabled")
	o = mustPlace(t, c, buy("INFY", 1, 1512))
	assert.Equal(t, 1512.0, o.FilledPrice)

	opts.Trading.PaperUseLastPrice = true
	c = newCore(t, opts)
	o = mustPlace(t, c, buy("INFY", 1, 0))
	assert.Equal(t, 1490.0, o.FilledPrice)
	o = mustPlace(t, c, buy("TCS", 1, 0))
	assert.Equal(t, 1000.0, o.FilledPrice)
}

func TestUnrealizedUsesPriceSourceOnly(t *testing.T) {
	opts := paperOptions()
	prices := fixedPrices{}
	opts.Prices = prices
	c := newCore(t, opts)
	mustPlace(t, c, buy("A", 10, 100))
	mustPlace(t, c, buy("B", 5, 200))

	pnl := c.PnL()
	assert.Zero(t, pnl.Unrealized)
	assert.Equal(t, 0, pnl.Priced)

	prices["A"] = 104
	pnl = c.PnL()
	assert.Equal(t, 40.0, pnl.Unrealized)
	assert.Equal(t, 40.0, pnl.Total)
	assert.Equal(t, 1, pnl.Priced)
	assert.Equal(t, 2, pnl.Open)

	pos := c.Positions()
	require.NotNil(t, pos[0].UnrealizedPnL)
	assert.Equal(t, 40.0, *pos[0].UnrealizedPnL)
	assert.Nil(t, pos[1].LastPrice)
}

func TestOrdersHistory(t *testing.T) {
	c := newCore(t, paperOptions())
	first := mustPlace(t, c, buy("A", 1, 10))
	second := mustPlace(t, c, buy("A", 1, 11))

	got, ok := c.Order(first.OrderID)
	require.True(t, ok)
	assert.Equal(t, first, got)
	_, ok = c.Order("missing")
	assert.False(t, ok)

	list := c.Orders(0)
	require.Len(t, list, 2)
	assert.Equal(t, second.OrderID, list[0].OrderID)
	assert.Len(t, c.Orders(1), 1)
}

func TestPaperWriteThrough(t *testing.T) {
	st, err := gormdb.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts := paperOptions()
	opts.Store = st
	c := newCore(t, opts)
	ctx := context.Background()
	o := mustPlace(t, c, buy("A", 10, 100))
	mustPlace(t, c, sell("A", 4, 110))

	rec, err := st.Orders().FindByID(ctx, o.OrderID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "FILLED", rec.Status)

	pos, err := st.Positions().List(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, int64(6), pos[0].Quantity)

	total, err := st.Trades().RealizedTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40.0, total)

	mustPlace(t, c, sell("A", 6, 100))
	pos, err = st.Positions().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestPaperRecordFailureBooksNothing(t *testing.T) {
	opts := paperOptions()
	opts.Store = brokenStore{}
	c := newCore(t, opts)

	_, err := c.PlaceOrder(context.Background(), buy("A", 1, 10))
	require.ErrorIs(t, err, ErrRecordFailed)
	assert.False(t, IsRejection(err))
	assert.Empty(t, c.Positions())
	assert.Empty(t, c.Orders(0))
}

func TestNonFinitePricesRejected(t *testing.T) {
	cases := map[string]float64{
		"nan":  math.NaN(),
		"+inf": math.Inf(1),
		"-inf": math.Inf(-1),
	}
	for name, px := range cases {
		t.Run(name, func(t *testing.T) {
			for _, kind := range []OrderType{OrderMarket, OrderLimit} {
				req := Request{Symbol: "INFY", Side: SideBuy, Quantity: 1, OrderType: kind, Price: px}

				paper := newCore(t, paperOptions())
				assert.NotPanics(t, func() {
					_, err := paper.PlaceOrder(context.Background(), req)
					assert.ErrorIs(t, err, ErrInvalidOrder)
					assert.Equal(t, "invalid_order", RejectReason(err))
				})
				assert.Empty(t, paper.Positions())

				s := &liveSession{}
				s.authed.Store(true)
				live := liveCore(t, s)
				assert.NotPanics(t, func() {
					_, err := live.PlaceOrder(context.Background(), req)
					assert.ErrorIs(t, err, ErrInvalidOrder)
				})
				s.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestNonFiniteFillSourcesIgnored(t *testing.T) {
	for name, px := range map[string]float64{"nan": math.NaN(), "+inf": math.Inf(1), "-inf": math.Inf(-1)} {
		t.Run(name, func(t *testing.T) {
			opts := paperOptions()
			opts.Trading.PaperUseLastPrice = true
			opts.Prices = fixedPrices{"INFY": px}
			paper := newCore(t, opts)
			var o Order
			assert.NotPanics(t, func() { o = mustPlace(t, paper, buy("INFY", 1, 0)) })
			assert.Equal(t, 1000.0, o.FilledPrice)
			assert.NotPanics(t, func() { paper.PnL() })

			s := &liveSession{}
			s.authed.Store(true)
			s.On("PlaceOrder", "INFY", "BUY", int64(1)).Return(broker.OrderAck{OrderID: "B-9", Status: "COMPLETE", FilledPrice: px, FilledQuantity: 1}, nil)
			live := liveCore(t, s)
			assert.NotPanics(t, func() { o = mustPlace(t, live, buy("INFY", 1, 0)) })
			assert.Equal(t, StatusPending, o.Status)
			assert.Empty(t, live.Positions())
		})
	}
}

func TestPaperWithoutUsableFillPriceRejects(t *testing.T) {
	opts := paperOptions()
	opts.Trading.PaperFillPrice = math.Inf(1)
	c := newCore(t, opts)
	_, err := c.PlaceOrder(context.Background(), buy("INFY", 1, 0))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	assert.Equal(t, "no_price", RejectReason(err))
	assert.Empty(t, c.Positions())

	opts = paperOptions()
	opts.Risk.MaxDailyLoss = math.NaN()
	_, err = NewCore(opts)
	assert.Error(t, err)
}

func liveCore(t *testing.T, s *liveSession) *Core {
	opts := paperOptions()
	opts.Trading.Mode = config.ModeLive
	opts.Broker = func() broker.Session { return s }
	return newCore(t, opts)
}

func TestLiveFillBooksLedger(t *testing.T) {
	s := &liveSession{}
	s.authed.Store(true)
	s.On("PlaceOrder", "INFY", "BUY", int64(10)).Return(broker.OrderAck{OrderID: "B-1", Status: "COMPLETE", FilledPrice: 1500, FilledQuantity: 10}, nil)
	c := liveCore(t, s)

	o := mustPlace(t, c, buy("INFY", 10, 0))
	assert.Equal(t, "B-1", o.OrderID)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, config.ModeLive, o.Mode)
	require.Len(t, c.Positions(), 1)
	assert.Equal(t, 1500.0, c.Positions()[0].AvgPrice)
	s.AssertExpectations(t)
}

func TestLivePendingAckRecordedWithoutLedger(t *testing.T) {
	s := &liveSession{}
	s.authed.Store(true)
	s.On("PlaceOrder", "INFY", "BUY", int64(10)).Return(broker.OrderAck{OrderID: "B-2", Status: "PENDING"}, nil)
	c := liveCore(t, s)

	o := mustPlace(t, c, buy("INFY", 10, 0))
	assert.Equal(t, StatusPending, o.Status)
	assert.Empty(t, c.Positions())
	_, ok := c.Order("B-2")
	assert.True(t, ok)
}

func TestLiveFailuresMutateNothing(t *testing.T) {
	s := &liveSession{}
	c := liveCore(t, s)

	_, err := c.PlaceOrder(context.Background(), buy("INFY", 1, 0))
	assert.ErrorIs(t, err, ErrBrokerUnavailable)

	s.authed.Store(true)
	s.On("PlaceOrder", "INFY", "BUY", int64(1)).Return(broker.OrderAck{Message: "margin"}, nil).Once()
	_, err = c.PlaceOrder(context.Background(), buy("INFY", 1, 0))
	assert.ErrorIs(t, err, ErrBrokerRejected)

	s.On("PlaceOrder", "INFY", "BUY", int64(1)).Return(broker.OrderAck{}, errors.New("timeout"))
	_, err = c.PlaceOrder(context.Background(), buy("INFY", 1, 0))
	assert.EqualError(t, err, "timeout")
	_, err = c.PlaceOrder(context.Background(), buy("INFY", 1, 0))
	assert.EqualError(t, err, "timeout")

	// threshold 2 reached: the breaker short-circuits the broker.
	_, err = c.PlaceOrder(context.Background(), buy("INFY", 1, 0))
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Equal(t, "OPEN", c.BreakerState())

	assert.Empty(t, c.Positions())
	assert.Empty(t, c.Orders(0))
	s.AssertNumberOfCalls(t, "PlaceOrder", 3)
}

func TestConcurrentOrdersSerialize(t *testing.T) {
	opts := paperOptions()
	opts.Trading.MaxPositions = 1
	c := newCore(t, opts)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.PlaceOrder(context.Background(), buy("A", 1, 100))
		}()
	}
	wg.Wait()
	pos := c.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, int64(50), pos[0].Quantity)
	assert.Equal(t, 100.0, pos[0].AvgPrice)
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) SendText(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
