package gormdb

import (
	"context"
	"errors"
	"strings"

	"roboai/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRepo struct {
	db *gorm.DB
}

func (r *orderRepo) Save(ctx context.Context, order *model.OrderModel) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	if strings.TrimSpace(order.OrderID) == "" {
		return errors.New("order id cannot be empty")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "filled_price", "filled_quantity", "raw", "updated_at",
		}),
	}).Create(order).Error
}

// FindByID returns nil without error when the order is unknown.
func (r *orderRepo) FindByID(ctx context.Context, orderID string) (*model.OrderModel, error) {
	var order model.OrderModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepo) ListRecent(ctx context.Context, limit int) ([]model.OrderModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []model.OrderModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

type tradeRepo struct {
	db *gorm.DB
}

func (r *tradeRepo) Insert(ctx context.Context, trade *model.TradeModel) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *tradeRepo) ListRecent(ctx context.Context, limit int) ([]model.TradeModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var trades []model.TradeModel
	if err := r.db.WithContext(ctx).
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *tradeRepo) RealizedForSession(ctx context.Context, sessionKey string) (float64, error) {
	var sum float64
	err := r.db.WithContext(ctx).Model(&model.TradeModel{}).
		Where("session_key = ?", sessionKey).
		Select("COALESCE(SUM(realized_pnl), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *tradeRepo) RealizedTotal(ctx context.Context) (float64, error) {
	var sum float64
	err := r.db.WithContext(ctx).Model(&model.TradeModel{}).
		Select("COALESCE(SUM(realized_pnl), 0)").
		Scan(&sum).Error
	return sum, err
}

type positionRepo struct {
	db *gorm.DB
}

func (r *positionRepo) Upsert(ctx context.Context, pos *model.PositionModel) error {
	if pos == nil {
		return errors.New("position cannot be nil")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		UpdateAll: true,
	}).Create(pos).Error
}

func (r *positionRepo) Delete(ctx context.Context, symbol string) error {
	return r.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&model.PositionModel{}).Error
}

func (r *positionRepo) List(ctx context.Context) ([]model.PositionModel, error) {
	var out []model.PositionModel
	if err := r.db.WithContext(ctx).Order("symbol ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
