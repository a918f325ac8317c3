package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"tradecore/internal/execution"
	"tradecore/internal/models"

	"github.com/google/uuid"
)

type CreateOrderParams struct {
	StrategyID  string
	Symbol      string
	Side        models.OrderSide
	Type        models.OrderType
	Qty         float64
	LimitPrice  float64
	StopLoss    float64
	TakeProfit  float64
	TimeInForce string
}

func newOrderID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

const maxArchive = 1000

// archiveLocked кладёт терминальный ордер в архив, старые записи вытесняются.
func (e *Engine) archiveLocked(order models.Order) {
	e.archive = append(e.archive, order)
	if len(e.archive) > maxArchive {
		e.archive = e.archive[len(e.archive)-maxArchive:]
	}
}

func (e *Engine) validateParams(p CreateOrderParams) error {
	if p.Symbol == "" {
		return models.NewValidationError("Не указан инструмент.")
	}
	if p.Side != models.OrderSideBuy && p.Side != models.OrderSideSell {
		return models.NewValidationError("Неизвестная сторона ордера: %s", p.Side)
	}
	if p.Qty <= 0 {
		return models.NewValidationError("Объём ордера должен быть положительным: %f", p.Qty)
	}
	if !e.suite.Supported(p.Type) {
		return models.NewValidationError("Неизвестный тип ордера: %s", p.Type)
	}
	if p.Type == models.OrderTypeLimit && p.LimitPrice <= 0 {
		return models.NewValidationError("Лимитный ордер требует положительную цену.")
	}
	return nil
}

func (e *Engine) CreateOrder(ctx context.Context, p CreateOrderParams) (models.Order, error) {
	if !e.IsRunning() {
		return models.Order{}, models.ErrEngineNotRunning
	}
	if err := e.validateParams(p); err != nil {
		return models.Order{}, err
	}

	now := time.Now()
	order := &models.Order{
		ID:          newOrderID(),
		StrategyID:  p.StrategyID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Type:        p.Type,
		Qty:         p.Qty,
		LimitPrice:  p.LimitPrice,
		StopLoss:    p.StopLoss,
		TakeProfit:  p.TakeProfit,
		TimeInForce: p.TimeInForce,
		Status:      models.OrderStatusPending,
		CreateTime:  now,
		UpdateTime:  now,
	}

	e.mu.Lock()
	e.orders[order.ID] = order
	e.queue = append(e.queue, order.ID)
	e.mu.Unlock()

	e.wakeDispatcher()
	e.emitOrder(EventTypeOrderCreated, *order)
	e.logEntry().WithFields(map[string]interface{}{
		"order_id":    order.ID,
		"strategy_id": order.StrategyID,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"type":        order.Type,
		"qty":         order.Qty,
	}).Info("Ордер поставлен в очередь.")

	return *order, nil
}

func (e *Engine) Order(id string) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *order, true
}

func (e *Engine) PendingOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, 0, len(e.queue))
	for _, id := range e.queue {
		if order, ok := e.orders[id]; ok && order.Status == models.OrderStatusPending {
			out = append(out, *order)
		}
	}
	return out
}

func (e *Engine) ArchivedOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, len(e.archive))
	copy(out, e.archive)
	return out
}

func (e *Engine) wakeDispatcher() {
	select {
	case e.queueCh <- struct{}{}:
	default:
	}
}

// CancelAllOrders переводит все нетерминальные ордера в rejected:
// очередь снимается, исполняющиеся ордера отклоняются и их контексты
// отменяются. Уже завершённые ордера не трогаются.
func (e *Engine) CancelAllOrders() int {
	return e.cancelAll("Отменён по запросу.")
}

func (e *Engine) cancelAll(reason string) int {
	e.mu.Lock()
	cancelled := 0
	for _, id := range e.queue {
		order, ok := e.orders[id]
		if !ok || order.Status != models.OrderStatusPending {
			continue
		}
		order.LastError = reason
		if err := order.Transition(models.OrderStatusRejected); err == nil {
			cancelled++
			e.archiveLocked(*order)
			e.emitOrder(EventTypeOrderRejected, *order)
		}
	}
	e.queue = nil
	// Исполняющиеся ордера отклоняются здесь же, под блокировкой: поздний
	// результат раннера будет отброшен, повторная постановка невозможна.
	inFlight := make([]context.CancelFunc, 0, len(e.inFlight))
	for id, cancel := range e.inFlight {
		inFlight = append(inFlight, cancel)
		order, ok := e.orders[id]
		if !ok || order.Status != models.OrderStatusExecuting {
			continue
		}
		order.LastError = reason
		if err := order.Transition(models.OrderStatusRejected); err == nil {
			cancelled++
			e.archiveLocked(*order)
			e.emitOrder(EventTypeOrderRejected, *order)
		}
	}
	e.mu.Unlock()

	for _, cancel := range inFlight {
		cancel()
	}

	if cancelled > 0 {
		e.logEntry().WithField("count", cancelled).Info("Ордера отменены.")
	}
	return cancelled
}

// dispatchLoop снимает ордера с очереди не чаще лимита, исполнение каждого
// идёт в своей горутине с отменяемым контекстом.
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	rate := e.cfg.Engine.MaxOrdersPerSecond
	if rate <= 0 {
		rate = 1
	}
	interval := time.Duration(float64(time.Second) / rate)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.queueCh:
		}
		for {
			order := e.takeNext()
			if order == nil {
				break
			}
			e.startExecution(ctx, order)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

func (e *Engine) takeNext() *models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) > 0 {
		id := e.queue[0]
		e.queue = e.queue[1:]
		order, ok := e.orders[id]
		if !ok || order.Status != models.OrderStatusPending {
			continue
		}
		return order
	}
	return nil
}

func (e *Engine) startExecution(ctx context.Context, order *models.Order) {
	e.mu.Lock()
	if err := order.Transition(models.OrderStatusExecuting); err != nil {
		e.mu.Unlock()
		e.logEntry().WithError(err).WithField("order_id", order.ID).Warn("Ордер пропущен диспетчером.")
		return
	}
	order.Attempts++
	runCtx, cancel := context.WithCancel(ctx)
	e.inFlight[order.ID] = cancel
	snapshot := *order
	e.mu.Unlock()

	e.emitOrder(EventTypeOrderExecuting, snapshot)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.inFlight, order.ID)
			e.mu.Unlock()
		}()
		e.execute(runCtx, order, snapshot)
	}()
}

func (e *Engine) execute(ctx context.Context, order *models.Order, snapshot models.Order) {
	runner, err := e.suite.Runner(snapshot.Type)
	if err == nil {
		var res execution.Result
		res, err = runner.Run(ctx, snapshot, e.oracle)
		if err == nil {
			e.applyExecution(ctx, order, res)
			return
		}
	}
	e.handleExecutionFailure(order, err)
}

func (e *Engine) applyExecution(ctx context.Context, order *models.Order, res execution.Result) {
	fill := models.Fill{
		OrderID:   order.ID,
		ExecID:    newOrderID(),
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     res.AvgFillPrice,
		Qty:       res.FilledQty,
		Timestamp: res.ExecutedAt,
		Sequence:  atomic.AddInt64(&e.fillSeq, 1),
	}

	e.mu.Lock()
	if order.Status != models.OrderStatusExecuting {
		// Отмена успела раньше завершения, результат отбрасывается.
		e.mu.Unlock()
		return
	}
	order.FilledQty = res.FilledQty
	order.AvgFillPrice = res.AvgFillPrice
	order.Slippage = res.Shortfall
	order.Transition(models.OrderStatusFilled)
	e.archiveLocked(*order)
	snapshot := *order
	e.mu.Unlock()

	e.stats.recordFill(res)

	pos, state, err := e.tracker.ApplyFill(ctx, snapshot, fill)
	if err != nil {
		e.logEntry().WithError(err).WithField("order_id", order.ID).Error("Не удалось применить исполнение к портфелю.")
	} else {
		e.emit(Event{Type: EventTypePositionUpdated, StrategyID: snapshot.StrategyID, Position: &pos})
		e.emit(Event{Type: EventTypePortfolioUpdated, Portfolio: &state})
	}

	e.emitOrder(EventTypeOrderFilled, snapshot)
	e.logEntry().WithFields(map[string]interface{}{
		"order_id":       snapshot.ID,
		"symbol":         snapshot.Symbol,
		"filled_qty":     snapshot.FilledQty,
		"avg_fill_price": snapshot.AvgFillPrice,
		"slippage":       snapshot.Slippage,
		"attempts":       snapshot.Attempts,
	}).Info("Ордер исполнен.")
}

func (e *Engine) handleExecutionFailure(order *models.Order, err error) {
	e.mu.Lock()
	if order.Status != models.OrderStatusExecuting {
		e.mu.Unlock()
		return
	}
	order.LastError = err.Error()

	retriable := models.IsRetriableExecutionError(err) && order.Attempts < e.cfg.Engine.RetryAttempts
	if retriable {
		order.Transition(models.OrderStatusPending)
		e.queue = append(e.queue, order.ID)
		snapshot := *order
		e.mu.Unlock()

		e.wakeDispatcher()
		e.emitOrder(EventTypeOrderRetry, snapshot)
		e.stats.recordRetry()
		e.logEntry().WithError(err).WithFields(map[string]interface{}{
			"order_id": snapshot.ID,
			"attempts": snapshot.Attempts,
		}).Warn("Исполнение не удалось, ордер возвращён в очередь.")
		return
	}

	order.Transition(models.OrderStatusRejected)
	e.archiveLocked(*order)
	snapshot := *order
	e.mu.Unlock()

	e.stats.recordReject()
	e.emitOrder(EventTypeOrderRejected, snapshot)
	e.logEntry().WithError(err).WithFields(map[string]interface{}{
		"order_id": snapshot.ID,
		"symbol":   snapshot.Symbol,
		"attempts": snapshot.Attempts,
	}).Error("Ордер отклонён.")
}
