package engine

import (
	"context"
	"math"
	"time"

	"tradecore/internal/models"
)

type strategyState struct {
	LastSignals map[string]models.Signal
	LastRun     time.Time
}

type StrategyResult struct {
	StrategyID string   `json:"strategy_id"`
	OrderIDs   []string `json:"order_ids"`
	Skipped    int      `json:"skipped"`
	Blocked    int      `json:"blocked"`
	Failed     int      `json:"failed"`
}

// ExecuteStrategy фильтрует сигналы по порогу силы, прогоняет каждый через
// оценку риска и ставит одобренные ордера в очередь.
func (e *Engine) ExecuteStrategy(ctx context.Context, strategyID string, signals []models.Signal) (StrategyResult, error) {
	if !e.IsRunning() {
		return StrategyResult{}, models.ErrEngineNotRunning
	}
	if strategyID == "" {
		return StrategyResult{}, models.NewValidationError("Не указан идентификатор стратегии.")
	}

	result := StrategyResult{StrategyID: strategyID}
	threshold := e.cfg.Engine.SignalThreshold

	for _, sig := range signals {
		strength := math.Abs(sig.Strength)
		if strength < threshold {
			result.Skipped++
			e.log.WithStrategy(strategyID).WithFields(map[string]interface{}{
				"symbol":   sig.Symbol,
				"strength": sig.Strength,
			}).Debug("Сигнал ниже порога, пропуск.")
			continue
		}

		// Ошибка одного сигнала не обрывает остальную пачку.
		orderID, err := e.submitSignal(ctx, strategyID, sig)
		if err != nil {
			result.Failed++
			e.emit(Event{Type: EventTypeStrategyExecutionFailed, StrategyID: strategyID, Error: err.Error()})
			e.log.WithStrategy(strategyID).WithError(err).WithField("symbol", sig.Symbol).Error("Сигнал не исполнен.")
			continue
		}
		if orderID == "" {
			result.Blocked++
			continue
		}
		result.OrderIDs = append(result.OrderIDs, orderID)
	}

	e.rememberSignals(strategyID, signals)
	e.emit(Event{Type: EventTypeStrategyExecuted, StrategyID: strategyID})
	e.log.WithStrategy(strategyID).WithFields(map[string]interface{}{
		"signals": len(signals),
		"orders":  len(result.OrderIDs),
		"skipped": result.Skipped,
		"blocked": result.Blocked,
		"failed":  result.Failed,
	}).Info("Стратегия исполнена.")
	return result, nil
}

// submitSignal возвращает пустой идентификатор, если риск-оценка
// заблокировала сделку.
func (e *Engine) submitSignal(ctx context.Context, strategyID string, sig models.Signal) (string, error) {
	price := sig.Price
	if price <= 0 {
		var err error
		price, err = e.withRetryPrice(ctx, sig.Symbol)
		if err != nil {
			return "", err
		}
	}

	qty := e.signalQty(sig, price)
	if qty <= 0 {
		return "", models.NewValidationError("Нулевой объём для сигнала: %s", sig.Symbol)
	}

	side := models.OrderSideBuy
	if sig.Action == models.SignalActionSell {
		side = models.OrderSideSell
	}

	assessment := e.gate.Evaluate(ctx, models.TradeRequest{
		StrategyID: strategyID,
		Symbol:     sig.Symbol,
		Side:       side,
		Qty:        qty,
		Price:      price,
	})
	if !assessment.Approved {
		e.log.WithStrategy(strategyID).WithFields(map[string]interface{}{
			"symbol":     sig.Symbol,
			"risk_score": assessment.RiskScore,
			"blockers":   assessment.Blockers,
		}).Warn("Сделка заблокирована риск-оценкой.")
		return "", nil
	}
	if assessment.AdjustedQty > 0 && assessment.AdjustedQty < qty {
		e.log.WithStrategy(strategyID).WithFields(map[string]interface{}{
			"symbol":       sig.Symbol,
			"qty":          qty,
			"adjusted_qty": assessment.AdjustedQty,
		}).Info("Объём сделки урезан риск-оценкой.")
		qty = assessment.AdjustedQty
	}

	orderType := sig.OrderType
	if orderType == "" {
		orderType = models.OrderTypeMarket
	}
	limitPrice := 0.0
	if orderType == models.OrderTypeLimit {
		limitPrice = price
	}

	order, err := e.CreateOrder(ctx, CreateOrderParams{
		StrategyID:  strategyID,
		Symbol:      sig.Symbol,
		Side:        side,
		Type:        orderType,
		Qty:         qty,
		LimitPrice:  limitPrice,
		StopLoss:    sig.StopLoss,
		TakeProfit:  sig.TakeProfit,
		TimeInForce: sig.TimeInForce,
	})
	if err != nil {
		return "", err
	}
	return order.ID, nil
}

// signalQty масштабирует базовую долю портфеля силой сигнала.
func (e *Engine) signalQty(sig models.Signal, price float64) float64 {
	fraction := e.cfg.Engine.BaseOrderFraction
	if fraction <= 0 {
		fraction = 0.1
	}
	value := e.tracker.Snapshot().Value
	return value * fraction * math.Abs(sig.Strength) / price
}

func (e *Engine) rememberSignals(strategyID string, signals []models.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.strategies[strategyID]
	if !ok {
		st = &strategyState{LastSignals: make(map[string]models.Signal)}
		e.strategies[strategyID] = st
	}
	for _, sig := range signals {
		st.LastSignals[sig.Symbol] = sig
	}
	st.LastRun = time.Now()
}

func (e *Engine) ActiveStrategies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.strategies))
	for id := range e.strategies {
		out = append(out, id)
	}
	return out
}

func (e *Engine) rebalanceLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Engine.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.rebalanceOnce(ctx)
		}
	}
}

type signalVote struct {
	strategyID string
	direction  float64
	strength   float64
}

// rebalanceOnce разрешает конфликты стратегий по одному инструменту:
// встречные сигналы сводятся к средневзвешенной по силе позиции, и на
// разницу ставится корректирующий рыночный ордер.
func (e *Engine) rebalanceOnce(ctx context.Context) {
	e.mu.Lock()
	votes := make(map[string][]signalVote)
	for id, st := range e.strategies {
		for symbol, sig := range st.LastSignals {
			dir := 1.0
			if sig.Action == models.SignalActionSell {
				dir = -1
			}
			votes[symbol] = append(votes[symbol], signalVote{strategyID: id, direction: dir, strength: math.Abs(sig.Strength)})
		}
	}
	e.mu.Unlock()

	for symbol, vs := range votes {
		if !hasConflict(vs) {
			continue
		}
		var weighted, total float64
		for _, v := range vs {
			weighted += v.direction * v.strength
			total += v.strength
		}
		if total == 0 {
			continue
		}
		blended := weighted / total

		e.logEntry().WithFields(map[string]interface{}{
			"symbol":     symbol,
			"strategies": len(vs),
			"blended":    blended,
		}).Info("Конфликт стратегий, ребалансировка по средневзвешенной силе.")

		if math.Abs(blended) < e.cfg.Engine.SignalThreshold {
			// Сигналы взаимно гасятся, корректировка не нужна.
			continue
		}

		action := models.SignalActionBuy
		if blended < 0 {
			action = models.SignalActionSell
		}
		if _, err := e.submitSignal(ctx, "rebalance", models.Signal{
			Symbol:   symbol,
			Action:   action,
			Strength: blended,
		}); err != nil {
			e.logEntry().WithError(err).WithField("symbol", symbol).Warn("Не удалось поставить ребалансирующий ордер.")
		}
	}
}

func hasConflict(vs []signalVote) bool {
	var buy, sell bool
	for _, v := range vs {
		if v.direction > 0 {
			buy = true
		} else {
			sell = true
		}
	}
	return buy && sell
}
