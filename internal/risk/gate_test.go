package risk

import (
	"context"
	"testing"

	"tradecore/internal/logger"
	"tradecore/internal/models"
	"tradecore/internal/oracle"
	"tradecore/internal/portfolio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() models.RiskLimits {
	limits := models.DefaultRiskLimits()
	// Проверки с историей котировок включаются в тестах точечно.
	limits.MaxPositionSizeUSD = 0
	limits.BaseVolatilityPercent = 0
	limits.CorrelationThreshold = 0
	return limits
}

func newTestGate(t *testing.T, limits models.RiskLimits) (*Gate, *portfolio.Tracker, *oracle.Static) {
	t.Helper()
	log := logger.New(logger.Config{Level: "error"})
	static := oracle.NewStatic()
	tracker := portfolio.NewTracker(static, log)
	tracker.Start(100000, 100000)
	return NewGate(limits, tracker, static, log), tracker, static
}

func applyBuy(t *testing.T, tracker *portfolio.Tracker, symbol string, qty, price float64, seq int64) {
	t.Helper()
	order := models.Order{ID: "o", StrategyID: "s1", Symbol: symbol, Side: models.OrderSideBuy}
	fill := models.Fill{OrderID: "o", Symbol: symbol, Side: models.OrderSideBuy, Price: price, Qty: qty, Sequence: seq}
	_, _, err := tracker.ApplyFill(context.Background(), order, fill)
	require.NoError(t, err)
}

func TestSymbolExposureAdjustsQty(t *testing.T) {
	gate, _, _ := newTestGate(t, testLimits())

	// Запрошенный номинал 20000 при лимите 15% от 100000.
	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Qty:        200,
		Price:      100,
	})

	assert.True(t, assessment.Approved)
	assert.InDelta(t, 150.0, assessment.AdjustedQty, 1e-9)
	assert.LessOrEqual(t, assessment.AdjustedQty*100, 15000.0)
	assert.NotEmpty(t, assessment.Warnings)
	assert.Empty(t, assessment.Blockers)
}

func TestDailyLossBlocksTrading(t *testing.T) {
	gate, tracker, static := newTestGate(t, testLimits())

	static.SetPrice("BTCUSDT", 10000)
	applyBuy(t, tracker, "BTCUSDT", 10, 10000, 1)
	static.SetPrice("BTCUSDT", 9400)
	state := tracker.Revalue(context.Background())
	require.InDelta(t, -0.06, state.DailyPnL, 1e-9)

	static.SetPrice("ETHUSDT", 100)
	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "ETHUSDT",
		Side:       models.OrderSideBuy,
		Qty:        1,
		Price:      100,
	})

	assert.False(t, assessment.Approved)
	assert.NotEmpty(t, assessment.Blockers)
}

func TestDrawdownBlocksTrading(t *testing.T) {
	gate, tracker, static := newTestGate(t, testLimits())

	static.SetPrice("BTCUSDT", 10000)
	applyBuy(t, tracker, "BTCUSDT", 10, 10000, 1)
	static.SetPrice("BTCUSDT", 8000)
	state := tracker.Revalue(context.Background())
	require.Greater(t, state.CurrentDrawdown, 0.15)

	static.SetPrice("ETHUSDT", 100)
	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "ETHUSDT",
		Side:       models.OrderSideBuy,
		Qty:        1,
		Price:      100,
	})

	assert.False(t, assessment.Approved)
	assert.NotEmpty(t, assessment.Blockers)
}

func TestFailClosedOnCheckError(t *testing.T) {
	limits := testLimits()
	limits.BaseVolatilityPercent = 0.02
	gate, _, static := newTestGate(t, limits)
	static.SetPrice("BTCUSDT", 100)
	// История недоступна, оценка волатильности вернёт ошибку.

	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Qty:        1,
		Price:      100,
	})

	assert.False(t, assessment.Approved)
	assert.Equal(t, 1.0, assessment.RiskScore)
	assert.NotEmpty(t, assessment.Blockers)
}

func TestInvalidRequestBlocked(t *testing.T) {
	gate, _, _ := newTestGate(t, testLimits())

	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Qty:        0,
		Price:      100,
	})

	assert.False(t, assessment.Approved)
	assert.Equal(t, 1.0, assessment.RiskScore)
}

func TestVolatilitySizingReducesQty(t *testing.T) {
	limits := testLimits()
	limits.BaseVolatilityPercent = 0.02
	gate, _, static := newTestGate(t, limits)

	static.SetPrice("BTCUSDT", 100)
	closes := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			closes = append(closes, 100)
		} else {
			closes = append(closes, 110)
		}
	}
	static.SetSeries("BTCUSDT", closes)

	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Qty:        100,
		Price:      100,
	})

	assert.Less(t, assessment.AdjustedQty, 100.0)
	assert.NotEmpty(t, assessment.Warnings)
}

func TestCorrelatedExposureBlocked(t *testing.T) {
	limits := testLimits()
	limits.CorrelationThreshold = 0.7
	limits.MaxBotExposure = 0.5
	limits.MaxSymbolExposure = 0.5
	gate, tracker, static := newTestGate(t, limits)

	closes := []float64{100, 102, 101, 104, 103, 106, 105, 108, 107, 110}
	static.SetSeries("BTCUSDT", closes)
	static.SetSeries("ETHUSDT", closes)

	static.SetPrice("ETHUSDT", 100)
	applyBuy(t, tracker, "ETHUSDT", 300, 100, 1)

	static.SetPrice("BTCUSDT", 100)
	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Qty:        10,
		Price:      100,
	})

	assert.False(t, assessment.Approved)
	assert.NotEmpty(t, assessment.Blockers)
}

func TestMarketConditionWarnings(t *testing.T) {
	gate, _, static := newTestGate(t, testLimits())

	static.SetPrice("BTCUSDT", 100)
	static.SetSnapshot("BTCUSDT", oracle.Snapshot{
		Symbol:         "BTCUSDT",
		LastPrice:      100,
		Bid:            99,
		Ask:            101,
		Volume24h:      50000,
		PriceChange24h: 0.2,
	})

	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Qty:        1,
		Price:      100,
		Meta:       map[string]float64{"model_confidence": 0.3},
	})

	// Рыночные условия только предупреждают: объём, спред, движение, уверенность.
	assert.True(t, assessment.Approved)
	assert.Len(t, assessment.Warnings, 4)
	assert.Empty(t, assessment.Blockers)
}

func TestUpdateLimits(t *testing.T) {
	gate, _, _ := newTestGate(t, testLimits())

	limits := gate.Limits()
	limits.MaxSymbolExposure = 0.5
	gate.UpdateLimits(limits)

	assessment := gate.Evaluate(context.Background(), models.TradeRequest{
		StrategyID: "s1",
		Symbol:     "BTCUSDT",
		Side:       models.OrderSideBuy,
		Qty:        200,
		Price:      100,
	})
	assert.InDelta(t, 200.0, assessment.AdjustedQty, 1e-9)
}

func TestReviewPortfolioWarnsNearLimits(t *testing.T) {
	gate, _, _ := newTestGate(t, testLimits())

	warnings := gate.ReviewPortfolio(models.PortfolioState{
		CurrentDrawdown: 0.13,
		DailyPnL:        -0.045,
	})
	assert.Len(t, warnings, 2)
}
