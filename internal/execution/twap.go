package execution

import (
	"context"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/oracle"
)

const (
	twapMinSlices = 2
	twapMaxSlices = 10
)

type twapRunner struct {
	suite *Suite
}

func (r *twapRunner) Algo() models.OrderType { return models.OrderTypeTWAP }

func (r *twapRunner) Run(ctx context.Context, order models.Order, po oracle.PriceOracle) (Result, error) {
	cfg := r.suite.cfg

	interval := cfg.TWAPSliceInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	slices := int(cfg.TWAPDuration / interval)
	if slices < twapMinSlices {
		slices = twapMinSlices
	}
	if slices > twapMaxSlices {
		slices = twapMaxSlices
	}
	// Пауза растягивает исполнение на весь настроенный интервал даже после
	// обрезки числа срезов.
	pause := cfg.TWAPDuration / time.Duration(slices)
	if pause <= 0 {
		pause = interval
	}

	arrival, err := po.GetPrice(ctx, order.Symbol)
	if err != nil {
		return Result{}, err
	}

	sliceQty := order.Qty / float64(slices)
	var filled, cost float64
	for i := 0; i < slices; i++ {
		if i > 0 {
			if err := r.suite.wait(ctx, pause); err != nil {
				return Result{}, err
			}
		}

		price, err := po.GetPrice(ctx, order.Symbol)
		if err != nil {
			return Result{}, err
		}

		qty := sliceQty
		if i == slices-1 {
			// Последний срез забирает остаток, чтобы сумма сошлась точно.
			qty = order.Qty - filled
		}
		fill := cfg.fillPrice(order.Side, price, qty)
		filled += qty
		cost += fill * qty

		r.suite.logEntry().WithFields(map[string]interface{}{
			"symbol":     order.Symbol,
			"slice":      i + 1,
			"slices":     slices,
			"qty":        qty,
			"fill_price": fill,
		}).Debug("Срез TWAP исполнен.")
	}

	avg := cost / filled
	return Result{
		FilledQty:     filled,
		AvgFillPrice:  avg,
		ExpectedPrice: arrival,
		Slices:        slices,
		Shortfall:     relativeSlippage(arrival, avg),
		ExecutedAt:    time.Now(),
	}, nil
}
