package model

import (
	"gorm.io/datatypes"
)

type OrderModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	OrderID        string         `gorm:"column:order_id;uniqueIndex"`
	Symbol         string         `gorm:"column:symbol;index"`
	Exchange       string         `gorm:"column:exchange"`
	Side           string         `gorm:"column:side"`
	OrderType      string         `gorm:"column:order_type"`
	Quantity       int64          `gorm:"column:quantity"`
	Price          float64        `gorm:"column:price"`
	FilledPrice    float64        `gorm:"column:filled_price"`
	FilledQuantity int64          `gorm:"column:filled_quantity"`
	Status         string         `gorm:"column:status;index"`
	Mode           string         `gorm:"column:mode"`
	Source         string         `gorm:"column:source"`
	Raw            datatypes.JSON `gorm:"column:raw;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// TradeModel is one executed fill. RealizedPnL is non-zero only for fills
// that reduce a position.
type TradeModel struct {
	ID             int64   `gorm:"column:id;primaryKey"`
	OrderID        string  `gorm:"column:order_id;index"`
	Symbol         string  `gorm:"column:symbol;index"`
	Side           string  `gorm:"column:side"`
	Quantity       int64   `gorm:"column:quantity"`
	Price          float64 `gorm:"column:price"`
	RealizedPnL    float64 `gorm:"column:realized_pnl"`
	Mode           string  `gorm:"column:mode"`
	SessionKey     string  `gorm:"column:session_key;index"`
	ExecutedAtUnix int64   `gorm:"column:executed_at;index"`
}

func (TradeModel) TableName() string { return "trades" }

type PositionModel struct {
	Symbol        string  `gorm:"column:symbol;primaryKey"`
	Exchange      string  `gorm:"column:exchange"`
	Quantity      int64   `gorm:"column:quantity"`
	AvgPrice      float64 `gorm:"column:avg_price"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }
