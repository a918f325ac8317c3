package portfolio

import (
	"context"
	"math"
	"sync"
	"time"

	"tradecore/internal/logger"
	"tradecore/internal/models"
	"tradecore/internal/oracle"

	"github.com/sirupsen/logrus"
)

type PositionKey struct {
	StrategyID string
	Symbol     string
}

// Tracker ведёт позиции и состояние портфеля. Обновление позиции и портфеля
// после исполнения выполняется одной атомарной парой под общим мьютексом.
type Tracker struct {
	mu               sync.Mutex
	positions        map[PositionKey]*models.Position
	state            models.PortfolioState
	processedExecIDs map[string]bool
	lastFillSeq      int64

	oracle oracle.PriceOracle
	log    *logger.Logger
}

func NewTracker(priceOracle oracle.PriceOracle, log *logger.Logger) *Tracker {
	return &Tracker{
		positions:        map[PositionKey]*models.Position{},
		processedExecIDs: map[string]bool{},
		oracle:           priceOracle,
		log:              log,
	}
}

func (t *Tracker) logEntry() *logrus.Entry {
	return t.log.WithComponent("portfolio")
}

func (t *Tracker) Start(initialValue, initialCash float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.state = models.PortfolioState{
		Cash:          initialCash,
		Value:         initialValue,
		DayStartValue: initialValue,
		PeakValue:     initialValue,
		UpdatedAt:     now,
	}
	t.logEntry().WithFields(map[string]interface{}{
		"value": initialValue,
		"cash":  initialCash,
	}).Info("Портфель инициализирован.")
}

// ApplyFill применяет исполнение: пересчёт позиции, кассы и метрик портфеля
// одной парой. Цены для переоценки собираются до захвата мьютекса.
func (t *Tracker) ApplyFill(ctx context.Context, order models.Order, fill models.Fill) (models.Position, models.PortfolioState, error) {
	marks := t.collectMarks(ctx, fill.Symbol)

	t.mu.Lock()
	defer t.mu.Unlock()

	if fill.ExecID != "" {
		if t.processedExecIDs[fill.ExecID] {
			t.logEntry().WithField("exec_id", fill.ExecID).Debug("Повторное исполнение пропущено.")
			pos := t.positionCopy(PositionKey{order.StrategyID, order.Symbol})
			return pos, t.state, nil
		}
		t.processedExecIDs[fill.ExecID] = true
	}
	if fill.Sequence > 0 {
		if fill.Sequence < t.lastFillSeq {
			pos := t.positionCopy(PositionKey{order.StrategyID, order.Symbol})
			return pos, t.state, nil
		}
		t.lastFillSeq = fill.Sequence
	}

	key := PositionKey{StrategyID: order.StrategyID, Symbol: order.Symbol}
	pos, ok := t.positions[key]
	if !ok {
		pos = &models.Position{StrategyID: order.StrategyID, Symbol: order.Symbol}
		t.positions[key] = pos
	}

	t.applyToPosition(pos, order, fill)

	if fill.Side == models.OrderSideBuy {
		t.state.Cash -= fill.Price * fill.Qty
	} else {
		t.state.Cash += fill.Price * fill.Qty
	}

	marks[fill.Symbol] = fill.Price
	t.revalueLocked(marks)

	t.logEntry().WithFields(map[string]interface{}{
		"strategy_id": order.StrategyID,
		"symbol":      order.Symbol,
		"qty":         pos.Qty,
		"avg":         pos.AvgPrice,
		"realized":    pos.RealizedPnL,
		"cash":        t.state.Cash,
		"value":       t.state.Value,
	}).Info("fill")

	return *pos, t.state, nil
}

func (t *Tracker) applyToPosition(pos *models.Position, order models.Order, fill models.Fill) {
	delta := fill.Qty
	if fill.Side == models.OrderSideSell {
		delta = -fill.Qty
	}

	switch {
	case pos.Qty == 0:
		pos.Qty = delta
		pos.AvgPrice = fill.Price
	case sameSign(pos.Qty, delta):
		oldAbs := math.Abs(pos.Qty)
		newAbs := oldAbs + fill.Qty
		pos.AvgPrice = (oldAbs*pos.AvgPrice + fill.Qty*fill.Price) / newAbs
		pos.Qty += delta
	default:
		closed := math.Min(math.Abs(pos.Qty), fill.Qty)
		direction := 1.0
		if pos.Qty < 0 {
			direction = -1.0
		}
		pos.RealizedPnL += direction * (fill.Price - pos.AvgPrice) * closed
		pos.Qty += delta
		if pos.Qty == 0 {
			pos.AvgPrice = 0
		} else if sameSign(pos.Qty, delta) {
			// разворот позиции: остаток открыт по цене исполнения
			pos.AvgPrice = fill.Price
		}
	}

	pos.MarkPrice = fill.Price
	pos.UnrealizedPnL = (pos.MarkPrice - pos.AvgPrice) * pos.Qty
	if pos.Qty == 0 {
		pos.UnrealizedPnL = 0
	}
	pos.OrderIDs = append(pos.OrderIDs, order.ID)
	pos.UpdatedAt = time.Now()
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

// RefreshMarks обновляет котировки и нереализованный PnL открытых позиций.
func (t *Tracker) RefreshMarks(ctx context.Context) {
	marks := t.collectMarks(ctx, "")

	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for _, pos := range t.positions {
		if pos.Qty == 0 {
			continue
		}
		if mark, ok := marks[pos.Symbol]; ok && mark > 0 {
			pos.MarkPrice = mark
			pos.UnrealizedPnL = (pos.MarkPrice - pos.AvgPrice) * pos.Qty
			pos.UpdatedAt = now
		}
	}
}

// Revalue переоценивает портфель по текущим котировкам.
func (t *Tracker) Revalue(ctx context.Context) models.PortfolioState {
	marks := t.collectMarks(ctx, "")

	t.mu.Lock()
	defer t.mu.Unlock()
	t.revalueLocked(marks)
	return t.state
}

func (t *Tracker) revalueLocked(marks map[string]float64) {
	value := t.state.Cash
	now := time.Now()
	for _, pos := range t.positions {
		if pos.Qty == 0 {
			continue
		}
		if mark, ok := marks[pos.Symbol]; ok && mark > 0 {
			pos.MarkPrice = mark
		}
		pos.UnrealizedPnL = (pos.MarkPrice - pos.AvgPrice) * pos.Qty
		pos.UpdatedAt = now
		value += pos.Qty * pos.MarkPrice
	}
	t.state.Value = value
	if value > t.state.PeakValue {
		t.state.PeakValue = value
	}
	if t.state.PeakValue > 0 {
		dd := (t.state.PeakValue - value) / t.state.PeakValue
		if dd < 0 {
			dd = 0
		}
		t.state.CurrentDrawdown = dd
		if dd > t.state.MaxDrawdown {
			t.state.MaxDrawdown = dd
		}
	}
	if t.state.DayStartValue > 0 {
		t.state.DailyPnL = (value - t.state.DayStartValue) / t.state.DayStartValue
	}
	t.state.UpdatedAt = now
}

func (t *Tracker) collectMarks(ctx context.Context, extraSymbol string) map[string]float64 {
	symbols := map[string]bool{}
	t.mu.Lock()
	for _, pos := range t.positions {
		if pos.Qty != 0 {
			symbols[pos.Symbol] = true
		}
	}
	t.mu.Unlock()
	if extraSymbol != "" {
		symbols[extraSymbol] = true
	}

	marks := map[string]float64{}
	for symbol := range symbols {
		price, err := t.oracle.GetPrice(ctx, symbol)
		if err != nil {
			t.logEntry().WithError(err).WithField("symbol", symbol).Warn("Не удалось получить котировку, используется последняя метка.")
			continue
		}
		marks[symbol] = price
	}
	return marks
}

func (t *Tracker) positionCopy(key PositionKey) models.Position {
	if pos, ok := t.positions[key]; ok {
		return *pos
	}
	return models.Position{StrategyID: key.StrategyID, Symbol: key.Symbol}
}

func (t *Tracker) Position(strategyID, symbol string) (models.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[PositionKey{strategyID, symbol}]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

func (t *Tracker) Positions() []models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	return out
}

func (t *Tracker) OpenPositions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, pos := range t.positions {
		if pos.Qty != 0 {
			count++
		}
	}
	return count
}

func (t *Tracker) Snapshot() models.PortfolioState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SymbolExposure возвращает суммарную номинальную экспозицию по инструменту.
func (t *Tracker) SymbolExposure(symbol string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, pos := range t.positions {
		if pos.Symbol == symbol {
			total += pos.Notional()
		}
	}
	return total
}

func (t *Tracker) StrategyExposure(strategyID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, pos := range t.positions {
		if pos.StrategyID == strategyID {
			total += pos.Notional()
		}
	}
	return total
}

func (t *Tracker) TotalExposure() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, pos := range t.positions {
		total += pos.Notional()
	}
	return total
}
