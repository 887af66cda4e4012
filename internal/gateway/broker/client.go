package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"roboai/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	defaultTokenTTL  = 8 * time.Hour
	maxResponseBytes = 1 << 20
)

type Credentials struct {
	APIKey     string
	APISecret  string
	ClientCode string
	OTP        OTPSource
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Credentials
}

// Client talks to the broker REST API. Responses are JSON envelopes of the
// form {"status": "success", "data": {...}, "message": "..."}.
type Client struct {
	baseURL string
	http    *http.Client
	creds   Credentials
	log     *slog.Logger
	nowFn   func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func NewClient(cfg ClientConfig, log *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("broker base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid broker base url: %w", err)
	}
	if cfg.OTP == nil {
		return nil, fmt.Errorf("broker client requires an otp source")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		creds:   cfg.Credentials,
		log:     logger.Component(log, "broker"),
		nowFn:   time.Now,
	}, nil
}

func (c *Client) Authenticate(ctx context.Context) error {
	code, err := c.creds.OTP.Code(ctx)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	res, err := c.do(ctx, http.MethodPost, "/session/login", map[string]any{
		"api_key":     c.creds.APIKey,
		"api_secret":  c.creds.APISecret,
		"client_code": c.creds.ClientCode,
		"totp":        code,
	}, false)
	if err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	token := res.Get("data.access_token").String()
	if token == "" {
		return fmt.Errorf("broker login: %w: no access token in response", ErrRejected)
	}
	ttl := defaultTokenTTL
	if secs := res.Get("data.expires_in").Int(); secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.mu.Lock()
	c.token = token
	c.expiresAt = c.nowFn().Add(ttl)
	c.mu.Unlock()
	c.log.Info("broker session authenticated", "client_code", c.creds.ClientCode, "expires_in", ttl)
	return nil
}

func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != "" && c.nowFn().Before(c.expiresAt)
}

func (c *Client) Quote(ctx context.Context, symbol, exchange string) (Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("exchange", exchange)
	res, err := c.do(ctx, http.MethodGet, "/market/quote?"+q.Encode(), nil, true)
	if err != nil {
		return Quote{}, err
	}
	data := res.Get("data")
	last := data.Get("last_price")
	if !last.Exists() {
		last = data.Get("ltp")
	}
	if !last.Exists() {
		return Quote{}, fmt.Errorf("quote %s: missing last price", symbol)
	}
	out := Quote{
		Symbol:    symbol,
		Exchange:  exchange,
		LastPrice: last.Float(),
		Open:      data.Get("open").Float(),
		High:      data.Get("high").Float(),
		Low:       data.Get("low").Float(),
		Close:     data.Get("close").Float(),
		Volume:    data.Get("volume").Int(),
		Timestamp: c.nowFn(),
	}
	if ts := data.Get("timestamp"); ts.Exists() {
		if parsed, err := time.Parse(time.RFC3339, ts.String()); err == nil {
			out.Timestamp = parsed
		}
	}
	return out, nil
}

func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	res, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil, true)
	if err != nil {
		return nil, err
	}
	var out []Position
	res.Get("data").ForEach(func(_, item gjson.Result) bool {
		out = append(out, Position{
			Symbol:   item.Get("symbol").String(),
			Exchange: item.Get("exchange").String(),
			Quantity: item.Get("quantity").Int(),
			AvgPrice: item.Get("average_price").Float(),
		})
		return true
	})
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	res, err := c.do(ctx, http.MethodPost, "/orders", req, true)
	if err != nil {
		return OrderAck{}, err
	}
	data := res.Get("data")
	ack := OrderAck{
		OrderID:        data.Get("order_id").String(),
		Status:         strings.ToUpper(data.Get("status").String()),
		FilledPrice:    data.Get("average_price").Float(),
		FilledQuantity: data.Get("filled_quantity").Int(),
		Message:        res.Get("message").String(),
	}
	c.log.Info("broker order placed",
		"symbol", req.Symbol,
		"side", req.Side,
		"quantity", req.Quantity,
		"order_id", ack.OrderID,
		"status", ack.Status,
	)
	return ack, nil
}

// Close logs out best-effort and drops the token.
func (c *Client) Close() error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
	defer c.http.CloseIdleConnections()
	if token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.doWithToken(ctx, http.MethodPost, "/session/logout", nil, token); err != nil {
		c.log.Warn("broker logout failed", "error", err)
		return err
	}
	c.log.Info("broker session closed")
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, auth bool) (gjson.Result, error) {
	token := ""
	if auth {
		if !c.IsAuthenticated() {
			return gjson.Result{}, ErrNotAuthenticated
		}
		c.mu.RLock()
		token = c.token
		c.mu.RUnlock()
	}
	return c.doWithToken(ctx, method, path, body, token)
}

func (c *Client) doWithToken(ctx context.Context, method, path string, body any, token string) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.creds.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		if c.token == token {
			c.token = ""
		}
		c.mu.Unlock()
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, ErrNotAuthenticated)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s %s status=%d: invalid json response", method, path, resp.StatusCode)
	}
	res := gjson.ParseBytes(raw)
	if resp.StatusCode/100 != 2 {
		return gjson.Result{}, fmt.Errorf("%s %s status=%d: %w: %s", method, path, resp.StatusCode, ErrRejected, res.Get("message").String())
	}
	if status := res.Get("status").String(); status != "" && !strings.EqualFold(status, "success") {
		return gjson.Result{}, fmt.Errorf("%s %s: %w: %s", method, path, ErrRejected, res.Get("message").String())
	}
	return res, nil
}
