package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"roboai/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	logins   atomic.Int32
	logouts  atomic.Int32
	reject   atomic.Bool
	expireAt atomic.Bool
	lastBody map[string]any
}

func (f *fakeBroker) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.lastBody = body
		if f.reject.Load() {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","message":"invalid totp"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"access_token":"tok-1","expires_in":3600}}`))
	})
	mux.HandleFunc("/session/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	mux.HandleFunc("/market/quote", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		assert.Equal(t, "RELIANCE", r.URL.Query().Get("symbol"))
		assert.Equal(t, "NSE", r.URL.Query().Get("exchange"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"ltp":2450.5,"open":2440,"volume":1200}}`))
	})
	mux.HandleFunc("/portfolio/positions", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":[{"symbol":"TCS","exchange":"NSE","quantity":3,"average_price":3500.25}]}`))
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BUY", req.Side)
		_, _ = w.Write([]byte(`{"status":"success","data":{"order_id":"B-77","status":"complete","average_price":101.5,"filled_quantity":10}}`))
	})
	return mux
}

func (f *fakeBroker) authorized(w http.ResponseWriter, r *http.Request) bool {
	if f.expireAt.Load() || r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":"error","message":"token expired"}`))
		return false
	}
	return true
}

func newTestClient(t *testing.T) (*Client, *fakeBroker) {
	t.Helper()
	fb := &fakeBroker{}
	srv := httptest.NewServer(fb.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{
		BaseURL: srv.URL + "/",
		Timeout: 2 * time.Second,
		Credentials: Credentials{
			APIKey:     "key",
			ClientCode: "C001",
			OTP:        StaticOTP("123456"),
		},
	}, logger.Nop())
	require.NoError(t, err)
	return c, fb
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(ClientConfig{Credentials: Credentials{OTP: StaticOTP("1")}}, nil)
	assert.Error(t, err)
	_, err = NewClient(ClientConfig{BaseURL: "http://localhost"}, nil)
	assert.Error(t, err)
}

func TestAuthenticateStoresToken(t *testing.T) {
	c, fb := newTestClient(t)
	assert.False(t, c.IsAuthenticated())

	require.NoError(t, c.Authenticate(context.Background()))
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, int32(1), fb.logins.Load())
	assert.Equal(t, "C001", fb.lastBody["client_code"])
	assert.Equal(t, "123456", fb.lastBody["totp"])
}

func TestAuthenticateRejected(t *testing.T) {
	c, fb := newTestClient(t)
	fb.reject.Store(true)
	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "invalid totp")
	assert.False(t, c.IsAuthenticated())
}

func TestTokenExpiryByClock(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Authenticate(context.Background()))
	c.nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.False(t, c.IsAuthenticated())
}

func TestCallsRequireSession(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Quote(context.Background(), "RELIANCE", "NSE")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = c.PlaceOrder(context.Background(), OrderRequest{Symbol: "X", Side: "BUY", Quantity: 1})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestQuotePositionsAndOrders(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	q, err := c.Quote(ctx, "RELIANCE", "NSE")
	require.NoError(t, err)
	assert.Equal(t, 2450.5, q.LastPrice)
	assert.Equal(t, int64(1200), q.Volume)

	pos, err := c.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "TCS", pos[0].Symbol)
	assert.Equal(t, int64(3), pos[0].Quantity)

	ack, err := c.PlaceOrder(ctx, OrderRequest{Symbol: "TCS", Exchange: "NSE", Side: "BUY", Quantity: 10, OrderType: "MARKET"})
	require.NoError(t, err)
	assert.Equal(t, "B-77", ack.OrderID)
	assert.True(t, ack.Filled())
	assert.Equal(t, 101.5, ack.FilledPrice)
}

func TestUnauthorizedClearsToken(t *testing.T) {
	c, fb := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	fb.expireAt.Store(true)
	_, err := c.Positions(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, c.IsAuthenticated())
}

func TestCloseLogsOutOnce(t *testing.T) {
	c, fb := newTestClient(t)
	require.NoError(t, c.Authenticate(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), fb.logouts.Load())
	assert.False(t, c.IsAuthenticated())
}

func TestTOTPKnownVector(t *testing.T) {
	// RFC 6238 appendix B, SHA1 secret "12345678901234567890".
	otp := TOTP{
		Secret: "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
		Now:    func() time.Time { return time.Unix(59, 0) },
	}
	code, err := otp.Code(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "287082", code)

	_, err = TOTP{}.Code(context.Background())
	assert.Error(t, err)
	_, err = StaticOTP(" ").Code(context.Background())
	assert.Error(t, err)
}
