// Package execution books order intents against an in-memory position
// ledger after a fixed sequence of risk gates.
package execution

import (
	"fmt"
	"math"
	"strings"
	"time"

	"roboai/internal/pkg/symbol"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFilled    Status = "FILLED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Request is an order intent. Price is required for LIMIT orders; for
// MARKET orders a positive Price is used as the paper fill.
type Request struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Side      Side      `json:"side"`
	Quantity  int64     `json:"quantity"`
	OrderType OrderType `json:"order_type"`
	Price     float64   `json:"price,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Source    string    `json:"source,omitempty"`
}

func (r Request) normalized(defaultExchange string) Request {
	inst := symbol.Parse(r.Symbol)
	r.Symbol = inst.Ticker
	r.Exchange = strings.ToUpper(strings.TrimSpace(r.Exchange))
	if r.Exchange == "" {
		r.Exchange = inst.Exchange
	}
	if r.Exchange == "" {
		r.Exchange = defaultExchange
	}
	r.Side = Side(strings.ToUpper(strings.TrimSpace(string(r.Side))))
	r.OrderType = OrderType(strings.ToUpper(strings.TrimSpace(string(r.OrderType))))
	if r.OrderType == "" {
		r.OrderType = OrderMarket
	}
	return r
}

func (r Request) validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("side must be BUY or SELL, got %q", r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0, got %d", r.Quantity)
	}
	if math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
		return fmt.Errorf("price must be a finite number")
	}
	switch r.OrderType {
	case OrderMarket:
	case OrderLimit:
		if r.Price <= 0 {
			return fmt.Errorf("limit order requires price > 0")
		}
	default:
		return fmt.Errorf("order_type must be MARKET or LIMIT, got %q", r.OrderType)
	}
	if r.Price < 0 {
		return fmt.Errorf("price must not be negative")
	}
	return nil
}

type Order struct {
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	Exchange       string    `json:"exchange"`
	Side           Side      `json:"side"`
	Quantity       int64     `json:"quantity"`
	OrderType      OrderType `json:"order_type"`
	Price          float64   `json:"price,omitempty"`
	Status         Status    `json:"status"`
	FilledPrice    float64   `json:"filled_price"`
	FilledQuantity int64     `json:"filled_quantity"`
	Mode           string    `json:"mode"`
	Strategy       string    `json:"strategy,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Source         string    `json:"source,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Position is a read-only view of one ledger entry. LastPrice and
// UnrealizedPnL are set only when a current price is known.
type Position struct {
	Symbol        string   `json:"symbol"`
	Exchange      string   `json:"exchange"`
	Quantity      int64    `json:"quantity"`
	AvgPrice      float64  `json:"avg_price"`
	RealizedPnL   float64  `json:"realized_pnl"`
	LastPrice     *float64 `json:"last_price,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
}

type PnL struct {
	Realized   float64 `json:"realized_pnl"`
	Unrealized float64 `json:"unrealized_pnl"`
	Total      float64 `json:"total_pnl"`
	Daily      float64 `json:"daily_pnl"`
	// Priced counts the open positions that contributed to Unrealized.
	Priced  int    `json:"priced_positions"`
	Open    int    `json:"open_positions"`
	Session string `json:"session"`
}

// usablePrice reports whether p can be booked: finite and positive.
func usablePrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0)
}
