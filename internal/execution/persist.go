package execution

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"roboai/internal/store"
	"roboai/internal/store/model"
)

const persistTimeout = 5 * time.Second

// persist writes the order, and for a fill its trade and position
// snapshot, in one transaction. The caller's cancellation is ignored so a
// booked broker order is never left half recorded.
func (c *Core) persist(ctx context.Context, order Order, ch *change) error {
	if c.opts.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	uow, err := c.opts.Store.Begin(ctx)
	if err != nil {
		return err
	}
	return store.Finish(uow, c.write(ctx, uow, order, ch))
}

func (c *Core) write(ctx context.Context, uow store.UnitOfWork, order Order, ch *change) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	now := order.Timestamp.Unix()
	if err := uow.Orders().Save(ctx, &model.OrderModel{
		OrderID:        order.OrderID,
		Symbol:         order.Symbol,
		Exchange:       order.Exchange,
		Side:           string(order.Side),
		OrderType:      string(order.OrderType),
		Quantity:       order.Quantity,
		Price:          order.Price,
		FilledPrice:    order.FilledPrice,
		FilledQuantity: order.FilledQuantity,
		Status:         string(order.Status),
		Mode:           order.Mode,
		Source:         order.Source,
		Raw:            datatypes.JSON(raw),
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}); err != nil {
		return err
	}
	if ch == nil {
		return nil
	}
	if err := uow.Trades().Insert(ctx, &model.TradeModel{
		OrderID:        order.OrderID,
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Quantity:       order.FilledQuantity,
		Price:          order.FilledPrice,
		RealizedPnL:    ch.realized.InexactFloat64(),
		Mode:           order.Mode,
		SessionKey:     c.session,
		ExecutedAtUnix: now,
	}); err != nil {
		return err
	}
	if ch.remove {
		return uow.Positions().Delete(ctx, ch.symbol)
	}
	return uow.Positions().Upsert(ctx, &model.PositionModel{
		Symbol:        ch.symbol,
		Exchange:      ch.next.exchange,
		Quantity:      ch.next.qty,
		AvgPrice:      ch.next.avg.InexactFloat64(),
		RealizedPnL:   ch.next.realized.InexactFloat64(),
		UpdatedAtUnix: now,
	})
}
