package risk

import (
	"context"
	"fmt"
	"math"

	"tradecore/internal/models"
	"tradecore/internal/oracle"

	"github.com/markcheno/go-talib"
)

const (
	lowVolumeThreshold  = 100000.0
	wideSpreadThreshold = 0.005
	highChangeThreshold = 0.10
	highVolThreshold    = 0.05
	minModelConfidence  = 0.5
	oversizeFactor      = 1.5
)

func (g *Gate) checkPositionLimits(ctx context.Context, req models.TradeRequest, limits models.RiskLimits, state models.PortfolioState) (models.CheckResult, error) {
	res := models.CheckResult{}
	notional := req.Notional()

	if limits.MaxPositionSizeUSD > 0 && notional > limits.MaxPositionSizeUSD {
		res.Warn(fmt.Sprintf("Номинал сделки %.2f превышает лимит на сделку %.2f.", notional, limits.MaxPositionSizeUSD))
		res.Adjust(limits.MaxPositionSizeUSD / req.Price)
		res.Recommend("Разбейте сделку на несколько меньших.")
	}

	if limits.MaxSymbolExposure > 0 && state.Value > 0 {
		headroom := limits.MaxSymbolExposure*state.Value - g.tracker.SymbolExposure(req.Symbol)
		if headroom <= 0 {
			res.Block(fmt.Sprintf("Лимит экспозиции по инструменту %s исчерпан.", req.Symbol))
		} else if notional > headroom {
			res.Warn(fmt.Sprintf("Сделка превышает остаток лимита по инструменту %s.", req.Symbol))
			res.Adjust(headroom / req.Price)
		}
	}

	if limits.MaxBotExposure > 0 && state.Value > 0 {
		headroom := limits.MaxBotExposure*state.Value - g.tracker.StrategyExposure(req.StrategyID)
		if headroom <= 0 {
			res.Block(fmt.Sprintf("Лимит экспозиции стратегии %s исчерпан.", req.StrategyID))
		} else if notional > headroom {
			res.Warn(fmt.Sprintf("Сделка превышает остаток лимита стратегии %s.", req.StrategyID))
			res.Adjust(headroom / req.Price)
		}
	}

	return res, nil
}

func (g *Gate) checkPortfolioExposure(ctx context.Context, req models.TradeRequest, limits models.RiskLimits, state models.PortfolioState) (models.CheckResult, error) {
	res := models.CheckResult{}
	if limits.MaxPortfolioExposure <= 0 || state.Value <= 0 {
		return res, nil
	}

	limit := limits.MaxPortfolioExposure * state.Value
	total := g.tracker.TotalExposure()
	projected := total + req.Notional()

	if projected > limit*limits.AlertThreshold {
		res.Warn(fmt.Sprintf("Экспозиция портфеля %.2f приближается к лимиту %.2f.", projected, limit))
	}
	if projected > limit {
		headroom := limit - total
		if headroom <= 0 {
			res.Block("Лимит экспозиции портфеля исчерпан.")
		} else {
			res.Adjust(headroom / req.Price)
			res.Recommend("Сократите существующие позиции перед наращиванием новых.")
		}
	}
	return res, nil
}

func (g *Gate) checkDrawdownProtection(ctx context.Context, req models.TradeRequest, limits models.RiskLimits, state models.PortfolioState) (models.CheckResult, error) {
	res := models.CheckResult{}

	if limits.MaxDrawdownPercent > 0 {
		if state.CurrentDrawdown > limits.MaxDrawdownPercent {
			res.Block(fmt.Sprintf("Просадка %.2f%% превышает лимит %.2f%%. Торговля остановлена.", state.CurrentDrawdown*100, limits.MaxDrawdownPercent*100))
		} else if state.CurrentDrawdown > limits.MaxDrawdownPercent*limits.AlertThreshold {
			res.Warn(fmt.Sprintf("Просадка %.2f%% приближается к лимиту.", state.CurrentDrawdown*100))
		}
	}

	if limits.DailyLossLimit > 0 {
		if state.DailyPnL < -limits.DailyLossLimit {
			res.Block(fmt.Sprintf("Дневной убыток %.2f%% превышает лимит %.2f%%. Торговля остановлена.", -state.DailyPnL*100, limits.DailyLossLimit*100))
		} else if state.DailyPnL < -limits.DailyLossLimit*limits.AlertThreshold {
			res.Warn(fmt.Sprintf("Дневной убыток %.2f%% приближается к лимиту.", -state.DailyPnL*100))
		}
	}

	return res, nil
}

func (g *Gate) checkVolatilitySizing(ctx context.Context, req models.TradeRequest, limits models.RiskLimits, state models.PortfolioState) (models.CheckResult, error) {
	res := models.CheckResult{}
	if limits.BaseVolatilityPercent <= 0 || state.Value <= 0 {
		return res, nil
	}

	candles, err := g.oracle.GetHistoricalPrices(ctx, req.Symbol, "1d", limits.VolatilityLookbackDays)
	if err != nil {
		return res, fmt.Errorf("Не удалось получить историю для оценки волатильности: %w", err)
	}
	returns := oracle.Returns(oracle.Closes(candles))
	if len(returns) < 2 {
		res.Warn(fmt.Sprintf("Недостаточно истории для оценки волатильности %s.", req.Symbol))
		return res, nil
	}

	std := talib.StdDev(returns, len(returns), 1.0)
	vol := std[len(std)-1]

	multiplier := limits.MaxVolatilityMultiplier
	if vol > 0 {
		multiplier = math.Min(limits.BaseVolatilityPercent/vol, limits.MaxVolatilityMultiplier)
	}
	optimal := state.Value * limits.BaseVolatilityPercent * multiplier / req.Price

	if req.Qty > optimal*oversizeFactor {
		res.Warn(fmt.Sprintf("Объём %.4f превышает оптимальный по волатильности %.4f.", req.Qty, optimal))
		res.Adjust(optimal)
	}
	if vol > highVolThreshold {
		res.Warn(fmt.Sprintf("Высокая волатильность %s: %.2f%%.", req.Symbol, vol*100))
	}

	return res, nil
}

func (g *Gate) checkCorrelationLimits(ctx context.Context, req models.TradeRequest, limits models.RiskLimits, state models.PortfolioState) (models.CheckResult, error) {
	res := models.CheckResult{}
	if limits.CorrelationThreshold <= 0 || limits.MaxCorrelatedExposure <= 0 || state.Value <= 0 {
		return res, nil
	}

	open := g.tracker.Positions()
	exposureBySymbol := map[string]float64{}
	for _, pos := range open {
		if pos.Qty == 0 || pos.Symbol == req.Symbol {
			continue
		}
		exposureBySymbol[pos.Symbol] += pos.Notional()
	}
	if len(exposureBySymbol) == 0 {
		return res, nil
	}

	baseCandles, err := g.oracle.GetHistoricalPrices(ctx, req.Symbol, "1d", limits.VolatilityLookbackDays)
	if err != nil {
		return res, fmt.Errorf("Не удалось получить историю для оценки корреляции: %w", err)
	}
	baseReturns := oracle.Returns(oracle.Closes(baseCandles))

	correlated := 0.0
	for symbol, exposure := range exposureBySymbol {
		candles, err := g.oracle.GetHistoricalPrices(ctx, symbol, "1d", limits.VolatilityLookbackDays)
		if err != nil {
			return res, fmt.Errorf("Не удалось получить историю для оценки корреляции: %w", err)
		}
		otherReturns := oracle.Returns(oracle.Closes(candles))

		n := len(baseReturns)
		if len(otherReturns) < n {
			n = len(otherReturns)
		}
		if n < 2 {
			res.Warn(fmt.Sprintf("Недостаточно истории для оценки корреляции %s и %s.", req.Symbol, symbol))
			continue
		}

		corr := talib.Correl(baseReturns[len(baseReturns)-n:], otherReturns[len(otherReturns)-n:], n)
		if corr[len(corr)-1] > limits.CorrelationThreshold {
			correlated += exposure
		}
	}

	if correlated == 0 {
		return res, nil
	}

	limit := limits.MaxCorrelatedExposure * state.Value
	projected := correlated + req.Notional()
	if projected > limit {
		headroom := limit - correlated
		if headroom <= 0 {
			res.Block("Лимит коррелированной экспозиции исчерпан.")
		} else {
			res.Warn("Сделка превышает лимит коррелированной экспозиции.")
			res.Adjust(headroom / req.Price)
		}
	}

	return res, nil
}

// checkMarketConditions только предупреждает, никогда не блокирует.
func (g *Gate) checkMarketConditions(ctx context.Context, req models.TradeRequest, limits models.RiskLimits, state models.PortfolioState) (models.CheckResult, error) {
	res := models.CheckResult{}

	snap, err := g.oracle.GetSnapshot(ctx, req.Symbol)
	if err != nil {
		res.Warn(fmt.Sprintf("Нет рыночных данных по %s.", req.Symbol))
		return res, nil
	}

	if snap.Volume24h > 0 && snap.Volume24h < lowVolumeThreshold {
		res.Warn(fmt.Sprintf("Низкий суточный объём по %s.", req.Symbol))
	}
	if snap.Bid > 0 && snap.Ask > snap.Bid {
		mid := (snap.Ask + snap.Bid) / 2
		if (snap.Ask-snap.Bid)/mid > wideSpreadThreshold {
			res.Warn(fmt.Sprintf("Широкий спред по %s.", req.Symbol))
		}
	}
	if math.Abs(snap.PriceChange24h) > highChangeThreshold {
		res.Warn(fmt.Sprintf("Сильное суточное движение цены по %s.", req.Symbol))
	}
	if confidence, ok := req.Meta["model_confidence"]; ok && confidence < minModelConfidence {
		res.Warn(fmt.Sprintf("Низкая уверенность модели: %.2f.", confidence))
	}

	return res, nil
}
