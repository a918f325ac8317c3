package execution

import (
	"context"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/oracle"
)

const (
	shortfallMinSlices = 2
	shortfallMaxSlices = 10
)

type shortfallRunner struct {
	suite *Suite
}

func (r *shortfallRunner) Algo() models.OrderType { return models.OrderTypeShortfall }

// Run балансирует рыночное влияние и риск движения цены: высокая
// срочность и малый размер дают быстрое исполнение с полным
// проскальзыванием, низкая срочность растягивает окно и снижает влияние.
func (r *shortfallRunner) Run(ctx context.Context, order models.Order, po oracle.PriceOracle) (Result, error) {
	cfg := r.suite.cfg

	urgency := cfg.ShortfallUrgency
	if urgency <= 0 {
		urgency = 0.5
	}
	if urgency > 1 {
		urgency = 1
	}
	sizeTerm := cfg.sizeTerm(order.Qty)
	speed := urgency / (urgency + sizeTerm)

	window := time.Duration(float64(cfg.ShortfallMaxWindow) * (1 - speed))
	slices := shortfallMinSlices + int(float64(shortfallMaxSlices-shortfallMinSlices)*(1-speed))
	if slices > shortfallMaxSlices {
		slices = shortfallMaxSlices
	}
	interval := window / time.Duration(slices)

	arrival, err := po.GetPrice(ctx, order.Symbol)
	if err != nil {
		return Result{}, err
	}

	sliceQty := order.Qty / float64(slices)
	var filled, cost float64
	for i := 0; i < slices; i++ {
		if i > 0 {
			if err := r.suite.wait(ctx, interval); err != nil {
				return Result{}, err
			}
		}

		price, err := po.GetPrice(ctx, order.Symbol)
		if err != nil {
			return Result{}, err
		}

		qty := sliceQty
		if i == slices-1 {
			qty = order.Qty - filled
		}
		fill := cfg.fillPriceScaled(order.Side, price, qty, speed)
		filled += qty
		cost += fill * qty
	}

	avg := cost / filled
	shortfall := relativeSlippage(arrival, avg)

	r.suite.logEntry().WithFields(map[string]interface{}{
		"symbol":    order.Symbol,
		"urgency":   urgency,
		"speed":     speed,
		"slices":    slices,
		"window":    window.String(),
		"shortfall": shortfall,
	}).Debug("Ордер минимизации потерь исполнен.")

	return Result{
		FilledQty:     filled,
		AvgFillPrice:  avg,
		ExpectedPrice: arrival,
		Slices:        slices,
		Shortfall:     shortfall,
		ExecutedAt:    time.Now(),
	}, nil
}
