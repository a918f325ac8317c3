package portfolio

import (
	"context"
	"path/filepath"
	"testing"

	"tradecore/internal/logger"
	"tradecore/internal/models"
	"tradecore/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *oracle.Static) {
	t.Helper()
	static := oracle.NewStatic()
	tracker := NewTracker(static, logger.New(logger.Config{Level: "error"}))
	tracker.Start(100000, 100000)
	return tracker, static
}

func buyFill(symbol string, qty, price float64, seq int64) (models.Order, models.Fill) {
	order := models.Order{ID: "o1", StrategyID: "s1", Symbol: symbol, Side: models.OrderSideBuy}
	fill := models.Fill{OrderID: "o1", ExecID: "e" + string(rune('0'+seq)), Symbol: symbol, Side: models.OrderSideBuy, Price: price, Qty: qty, Sequence: seq}
	return order, fill
}

func sellFill(symbol string, qty, price float64, seq int64) (models.Order, models.Fill) {
	order := models.Order{ID: "o2", StrategyID: "s1", Symbol: symbol, Side: models.OrderSideSell}
	fill := models.Fill{OrderID: "o2", ExecID: "e" + string(rune('0'+seq)), Symbol: symbol, Side: models.OrderSideSell, Price: price, Qty: qty, Sequence: seq}
	return order, fill
}

func TestApplyFillOpensPosition(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("BTCUSDT", 50)

	order, fill := buyFill("BTCUSDT", 5, 50, 1)
	pos, state, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	assert.Equal(t, 5.0, pos.Qty)
	assert.Equal(t, 50.0, pos.AvgPrice)
	assert.Equal(t, 100000.0-250, state.Cash)
	// Стоимость портфеля не меняется от самой сделки по цене исполнения.
	assert.InDelta(t, 100000.0, state.Value, 1e-9)
}

func TestRealizedPnLOnClose(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("BTCUSDT", 50)

	order, fill := buyFill("BTCUSDT", 5, 50, 1)
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	static.SetPrice("BTCUSDT", 60)
	order, fill = sellFill("BTCUSDT", 5, 60, 2)
	pos, state, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	assert.Equal(t, 0.0, pos.Qty)
	assert.Equal(t, 0.0, pos.AvgPrice)
	assert.Equal(t, 50.0, pos.RealizedPnL)
	assert.InDelta(t, 100050.0, state.Cash, 1e-9)
	assert.InDelta(t, 100050.0, state.Value, 1e-9)
}

func TestAveragePriceOnAccumulation(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("ETHUSDT", 100)

	order, fill := buyFill("ETHUSDT", 10, 100, 1)
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	static.SetPrice("ETHUSDT", 110)
	order, fill = buyFill("ETHUSDT", 10, 110, 2)
	pos, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	assert.Equal(t, 20.0, pos.Qty)
	assert.InDelta(t, 105.0, pos.AvgPrice, 1e-9)
}

func TestPositionFlipSetsFillPriceAsAverage(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("ETHUSDT", 100)

	order, fill := buyFill("ETHUSDT", 5, 100, 1)
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	static.SetPrice("ETHUSDT", 120)
	order, fill = sellFill("ETHUSDT", 8, 120, 2)
	pos, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	assert.Equal(t, -3.0, pos.Qty)
	assert.Equal(t, 120.0, pos.AvgPrice)
	assert.InDelta(t, 100.0, pos.RealizedPnL, 1e-9)
}

func TestDuplicateExecIDIgnored(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("BTCUSDT", 50)

	order, fill := buyFill("BTCUSDT", 5, 50, 1)
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	pos, state, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)
	assert.Equal(t, 5.0, pos.Qty)
	assert.Equal(t, 100000.0-250, state.Cash)
}

func TestDrawdownTracking(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("BTCUSDT", 10000)

	order, fill := buyFill("BTCUSDT", 10, 10000, 1)
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	static.SetPrice("BTCUSDT", 9400)
	state := tracker.Revalue(context.Background())

	assert.InDelta(t, 94000.0, state.Value, 1e-9)
	assert.InDelta(t, 0.06, state.CurrentDrawdown, 1e-9)
	assert.InDelta(t, -0.06, state.DailyPnL, 1e-9)
	assert.InDelta(t, 0.06, state.MaxDrawdown, 1e-9)

	// Восстановление снижает текущую просадку, максимум остаётся.
	static.SetPrice("BTCUSDT", 9700)
	state = tracker.Revalue(context.Background())
	assert.InDelta(t, 0.03, state.CurrentDrawdown, 1e-9)
	assert.InDelta(t, 0.06, state.MaxDrawdown, 1e-9)
}

func TestValueEqualsCashPlusMarks(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("BTCUSDT", 200)
	static.SetPrice("ETHUSDT", 50)

	order, fill := buyFill("BTCUSDT", 10, 200, 1)
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)
	order, fill = buyFill("ETHUSDT", 40, 50, 2)
	_, state, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	expected := state.Cash + 10*200 + 40*50
	assert.InDelta(t, expected, state.Value, 1e-9)
}

func TestSaveAndRestoreState(t *testing.T) {
	tracker, static := newTestTracker(t)
	static.SetPrice("BTCUSDT", 50)

	order, fill := buyFill("BTCUSDT", 5, 50, 1)
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, tracker.SaveState(path))

	restored := NewTracker(static, logger.New(logger.Config{Level: "error"}))
	require.NoError(t, restored.RestoreState(path))

	pos, ok := restored.Position("s1", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 5.0, pos.Qty)
	assert.Equal(t, tracker.Snapshot().Cash, restored.Snapshot().Cash)
}
