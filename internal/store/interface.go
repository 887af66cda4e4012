// Package store defines the transactional persistence used by the
// execution core. Implementations live in subpackages.
package store

import (
	"context"

	"roboai/internal/store/model"
)

// UnitOfWork is one transaction. Exactly one of Commit or Rollback must be
// called.
type UnitOfWork interface {
	Commit() error
	Rollback() error

	Orders() OrderRepository
	Trades() TradeRepository
	Positions() PositionRepository
}

type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	Close() error
}

type OrderRepository interface {
	// Save inserts or updates by order id.
	Save(ctx context.Context, order *model.OrderModel) error
	FindByID(ctx context.Context, orderID string) (*model.OrderModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.OrderModel, error)
}

type TradeRepository interface {
	Insert(ctx context.Context, trade *model.TradeModel) error
	ListRecent(ctx context.Context, limit int) ([]model.TradeModel, error)
	// RealizedForSession sums realized PnL of trades booked in a session.
	RealizedForSession(ctx context.Context, sessionKey string) (float64, error)
	RealizedTotal(ctx context.Context) (float64, error)
}

type PositionRepository interface {
	Upsert(ctx context.Context, pos *model.PositionModel) error
	Delete(ctx context.Context, symbol string) error
	List(ctx context.Context) ([]model.PositionModel, error)
}

// Finish commits when err is nil and rolls back otherwise, returning the
// first failure.
func Finish(uow UnitOfWork, err error) error {
	if err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}
