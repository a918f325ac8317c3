package execution

import (
	"context"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/oracle"
)

type marketRunner struct {
	suite *Suite
}

func (r *marketRunner) Algo() models.OrderType { return models.OrderTypeMarket }

func (r *marketRunner) Run(ctx context.Context, order models.Order, po oracle.PriceOracle) (Result, error) {
	price, err := po.GetPrice(ctx, order.Symbol)
	if err != nil {
		return Result{}, err
	}

	fill := r.suite.cfg.fillPrice(order.Side, price, order.Qty)
	r.suite.logEntry().WithFields(map[string]interface{}{
		"symbol":     order.Symbol,
		"side":       order.Side,
		"qty":        order.Qty,
		"mark_price": price,
		"fill_price": fill,
	}).Debug("Рыночный ордер исполнен.")

	return Result{
		FilledQty:     order.Qty,
		AvgFillPrice:  fill,
		ExpectedPrice: price,
		Slices:        1,
		Shortfall:     relativeSlippage(price, fill),
		ExecutedAt:    time.Now(),
	}, nil
}
