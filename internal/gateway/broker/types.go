package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAuthenticated = errors.New("broker session not authenticated")
	ErrRejected         = errors.New("broker rejected request")
)

// Session is the broker connection shared by the agents. Only the auth
// agent authenticates or closes it; everyone else reads through it.
type Session interface {
	Authenticate(ctx context.Context) error
	IsAuthenticated() bool
	Quote(ctx context.Context, symbol, exchange string) (Quote, error)
	Positions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	Close() error
}

type Quote struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	LastPrice float64   `json:"last_price"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	Close     float64   `json:"close,omitempty"`
	Volume    int64     `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Position struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Quantity int64   `json:"quantity"`
	AvgPrice float64 `json:"average_price"`
}

type OrderRequest struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Side      string  `json:"side"`
	Quantity  int64   `json:"quantity"`
	OrderType string  `json:"order_type"`
	Price     float64 `json:"price,omitempty"`
	Product   string  `json:"product,omitempty"`
	Tag       string  `json:"tag,omitempty"`
}

// OrderAck is the broker's answer to PlaceOrder. An empty OrderID means the
// order was not accepted.
type OrderAck struct {
	OrderID        string
	Status         string
	FilledPrice    float64
	FilledQuantity int64
	Message        string
}

// Filled reports whether the ack confirms a complete fill.
func (a OrderAck) Filled() bool {
	switch a.Status {
	case "FILLED", "COMPLETE", "COMPLETED", "TRADED":
		return true
	}
	return false
}
