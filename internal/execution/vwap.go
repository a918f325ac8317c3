package execution

import (
	"context"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/oracle"
)

type vwapRunner struct {
	suite *Suite
}

func (r *vwapRunner) Algo() models.OrderType { return models.OrderTypeVWAP }

func (r *vwapRunner) Run(ctx context.Context, order models.Order, po oracle.PriceOracle) (Result, error) {
	cfg := r.suite.cfg

	lookback := cfg.VWAPLookback
	if lookback <= 0 {
		lookback = 20
	}
	candles, err := po.GetHistoricalPrices(ctx, order.Symbol, "1h", lookback)
	if err != nil {
		return Result{}, err
	}

	benchmark := vwapBenchmark(candles)
	if benchmark <= 0 {
		// Нет объёмов за период, исполняем по текущей цене.
		benchmark, err = po.GetPrice(ctx, order.Symbol)
		if err != nil {
			return Result{}, err
		}
	}

	fill := cfg.fillPrice(order.Side, benchmark, order.Qty)
	r.suite.logEntry().WithFields(map[string]interface{}{
		"symbol":     order.Symbol,
		"side":       order.Side,
		"qty":        order.Qty,
		"benchmark":  benchmark,
		"fill_price": fill,
	}).Debug("VWAP ордер исполнен.")

	return Result{
		FilledQty:     order.Qty,
		AvgFillPrice:  fill,
		ExpectedPrice: benchmark,
		Slices:        1,
		Shortfall:     relativeSlippage(benchmark, fill),
		ExecutedAt:    time.Now(),
	}, nil
}

func vwapBenchmark(candles []oracle.Candle) float64 {
	var volSum, costSum float64
	for _, c := range candles {
		volSum += c.Volume
		costSum += c.Close * c.Volume
	}
	if volSum <= 0 {
		return 0
	}
	return costSum / volSum
}
