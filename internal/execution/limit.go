package execution

import (
	"context"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/oracle"
)

type limitRunner struct {
	suite *Suite
}

func (r *limitRunner) Algo() models.OrderType { return models.OrderTypeLimit }

func (r *limitRunner) Run(ctx context.Context, order models.Order, po oracle.PriceOracle) (Result, error) {
	if order.LimitPrice <= 0 {
		return Result{}, models.NewValidationError("Лимитный ордер требует положительную цену.")
	}

	market, err := po.GetPrice(ctx, order.Symbol)
	if err != nil {
		return Result{}, err
	}

	// Покупка исполняется только если рынок не выше лимита,
	// продажа только если рынок не ниже.
	achievable := false
	switch order.Side {
	case models.OrderSideBuy:
		achievable = market <= order.LimitPrice
	case models.OrderSideSell:
		achievable = market >= order.LimitPrice
	}
	if !achievable {
		r.suite.logEntry().WithFields(map[string]interface{}{
			"symbol":      order.Symbol,
			"side":        order.Side,
			"limit_price": order.LimitPrice,
			"mark_price":  market,
		}).Debug("Лимитная цена недостижима.")
		return Result{}, models.ErrPriceNotAchievable
	}

	ratio := r.suite.cfg.LimitFillRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	filled := order.Qty * ratio

	return Result{
		FilledQty:     filled,
		AvgFillPrice:  order.LimitPrice,
		ExpectedPrice: order.LimitPrice,
		Slices:        1,
		ExecutedAt:    time.Now(),
	}, nil
}
