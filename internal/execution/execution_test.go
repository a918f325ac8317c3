package execution

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/logger"
	"tradecore/internal/models"
	"tradecore/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		BaseSlippage:         0.001,
		SlippageBaselineQty:  100,
		TWAPDuration:         5 * time.Minute,
		TWAPSliceInterval:    30 * time.Second,
		IcebergChunkFraction: 0.1,
		IcebergChunkDelay:    2 * time.Second,
		VWAPLookback:         20,
		LimitFillRatio:       1.0,
		ShortfallUrgency:     0.5,
		ShortfallMaxWindow:   10 * time.Minute,
	}
}

func instantWait(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestSuite(t *testing.T) *Suite {
	t.Helper()
	return NewSuiteWithWait(testConfig(), logger.New(logger.Config{Level: "error"}), instantWait)
}

func TestMarketFillWithinSlippageBand(t *testing.T) {
	suite := newTestSuite(t)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 100)

	runner, err := suite.Runner(models.OrderTypeMarket)
	require.NoError(t, err)

	buy, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 10}, static)
	require.NoError(t, err)
	assert.Equal(t, 10.0, buy.FilledQty)
	assert.GreaterOrEqual(t, buy.AvgFillPrice, 100.0)
	assert.LessOrEqual(t, buy.AvgFillPrice, 100*1.002)

	sell, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideSell, Qty: 10}, static)
	require.NoError(t, err)
	assert.LessOrEqual(t, sell.AvgFillPrice, 100.0)
	assert.GreaterOrEqual(t, sell.AvgFillPrice, 100*0.999)
}

func TestLimitOrderFillsAtLimitPrice(t *testing.T) {
	suite := newTestSuite(t)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 99)

	runner, err := suite.Runner(models.OrderTypeLimit)
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 5, LimitPrice: 100}, static)
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.FilledQty)
	assert.Equal(t, 100.0, res.AvgFillPrice)
}

func TestLimitOrderPriceNotAchievable(t *testing.T) {
	suite := newTestSuite(t)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 105)

	runner, err := suite.Runner(models.OrderTypeLimit)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 5, LimitPrice: 100}, static)
	assert.ErrorIs(t, err, models.ErrPriceNotAchievable)

	_, err = runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideSell, Qty: 5, LimitPrice: 110}, static)
	assert.ErrorIs(t, err, models.ErrPriceNotAchievable)
}

func TestTWAPSliceCountAndExactFill(t *testing.T) {
	suite := newTestSuite(t)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 100)

	runner, err := suite.Runner(models.OrderTypeTWAP)
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 1}, static)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Slices, 2)
	assert.LessOrEqual(t, res.Slices, 10)
	assert.InDelta(t, 1.0, res.FilledQty, 1e-12)
}

func TestTWAPSlicesClampedToRange(t *testing.T) {
	cfg := testConfig()
	cfg.TWAPDuration = 10 * time.Hour
	suite := NewSuiteWithWait(cfg, logger.New(logger.Config{Level: "error"}), instantWait)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 100)

	runner, err := suite.Runner(models.OrderTypeTWAP)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 3}, static)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Slices)
	assert.InDelta(t, 3.0, res.FilledQty, 1e-9)
}

func TestTWAPPausesSpanConfiguredDuration(t *testing.T) {
	cfg := testConfig()
	cfg.TWAPDuration = 10 * time.Hour
	var pauses []time.Duration
	record := func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return ctx.Err()
	}
	suite := NewSuiteWithWait(cfg, logger.New(logger.Config{Level: "error"}), record)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 100)

	runner, err := suite.Runner(models.OrderTypeTWAP)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 1}, static)
	require.NoError(t, err)

	// Срезы обрезаны до 10, пауза между ними делит весь интервал.
	require.Equal(t, 10, res.Slices)
	require.Len(t, pauses, 9)
	for _, pause := range pauses {
		assert.Equal(t, time.Hour, pause)
	}
}

func TestTWAPCancelled(t *testing.T) {
	suite := NewSuiteWithWait(testConfig(), logger.New(logger.Config{Level: "error"}), sleepWait)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner, err := suite.Runner(models.OrderTypeTWAP)
	require.NoError(t, err)
	_, err = runner.Run(ctx, models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 1}, static)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVWAPUsesVolumeWeightedBenchmark(t *testing.T) {
	suite := newTestSuite(t)
	static := oracle.NewStatic()
	static.SetCandles("BTCUSDT", []oracle.Candle{
		{Close: 100, Volume: 1},
		{Close: 200, Volume: 3},
	})

	runner, err := suite.Runner(models.OrderTypeVWAP)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideSell, Qty: 1}, static)
	require.NoError(t, err)

	// (100×1 + 200×3) / 4 = 175
	assert.InDelta(t, 175.0, res.ExpectedPrice, 1e-9)
	assert.LessOrEqual(t, res.AvgFillPrice, 175.0)
}

func TestIcebergChunksSumToOrderQty(t *testing.T) {
	suite := newTestSuite(t)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 100)

	runner, err := suite.Runner(models.OrderTypeIceberg)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 7}, static)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Slices)
	assert.InDelta(t, 7.0, res.FilledQty, 1e-9)
}

func TestShortfallFillsExactlyAndReportsCost(t *testing.T) {
	suite := newTestSuite(t)
	static := oracle.NewStatic()
	static.SetPrice("BTCUSDT", 100)

	runner, err := suite.Runner(models.OrderTypeShortfall)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 50}, static)
	require.NoError(t, err)

	assert.InDelta(t, 50.0, res.FilledQty, 1e-9)
	assert.GreaterOrEqual(t, res.Slices, 2)
	assert.LessOrEqual(t, res.Slices, 10)
	assert.Greater(t, res.Shortfall, 0.0)
	// Частичное исполнение снижает проскальзывание против рыночного.
	market, err := suite.Runner(models.OrderTypeMarket)
	require.NoError(t, err)
	full, err := market.Run(context.Background(), models.Order{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Qty: 50}, static)
	require.NoError(t, err)
	assert.Less(t, res.AvgFillPrice, full.AvgFillPrice)
}

func TestUnsupportedAlgo(t *testing.T) {
	suite := newTestSuite(t)
	_, err := suite.Runner(models.OrderType("STOP"))
	assert.ErrorIs(t, err, models.ErrUnsupportedAlgo)
}
