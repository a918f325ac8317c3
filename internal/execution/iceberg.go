package execution

import (
	"context"
	"math"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/oracle"
)

type icebergRunner struct {
	suite *Suite
}

func (r *icebergRunner) Algo() models.OrderType { return models.OrderTypeIceberg }

func (r *icebergRunner) Run(ctx context.Context, order models.Order, po oracle.PriceOracle) (Result, error) {
	cfg := r.suite.cfg

	fraction := cfg.IcebergChunkFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 0.1
	}
	chunks := int(math.Ceil(1 / fraction))
	chunkQty := order.Qty / float64(chunks)

	arrival, err := po.GetPrice(ctx, order.Symbol)
	if err != nil {
		return Result{}, err
	}

	var filled, cost float64
	for i := 0; i < chunks; i++ {
		if i > 0 {
			if err := r.suite.wait(ctx, cfg.IcebergChunkDelay); err != nil {
				return Result{}, err
			}
		}

		price, err := po.GetPrice(ctx, order.Symbol)
		if err != nil {
			return Result{}, err
		}

		qty := chunkQty
		if remaining := order.Qty - filled; qty > remaining || i == chunks-1 {
			qty = remaining
		}
		// Проскальзывание считается от видимой части, а не от всего ордера.
		fill := cfg.fillPrice(order.Side, price, qty)
		filled += qty
		cost += fill * qty

		r.suite.logEntry().WithFields(map[string]interface{}{
			"symbol":     order.Symbol,
			"chunk":      i + 1,
			"chunks":     chunks,
			"qty":        qty,
			"fill_price": fill,
		}).Debug("Видимая часть айсберга исполнена.")
	}

	avg := cost / filled
	return Result{
		FilledQty:     filled,
		AvgFillPrice:  avg,
		ExpectedPrice: arrival,
		Slices:        chunks,
		Shortfall:     relativeSlippage(arrival, avg),
		ExecutedAt:    time.Now(),
	}, nil
}
