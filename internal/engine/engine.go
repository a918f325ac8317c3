package engine

import (
	"context"
	"sync"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/execution"
	"tradecore/internal/logger"
	"tradecore/internal/models"
	"tradecore/internal/oracle"
	"tradecore/internal/portfolio"
	"tradecore/internal/risk"
)

type Engine struct {
	cfg    *config.Config
	oracle oracle.PriceOracle
	log    *logger.Logger

	tracker *portfolio.Tracker
	gate    *risk.Gate
	suite   *execution.Suite

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	orders     map[string]*models.Order
	queue      []string
	archive    []models.Order
	inFlight   map[string]context.CancelFunc
	queueCh    chan struct{}
	fillSeq    int64
	strategies map[string]*strategyState
	stats      executionStats

	events chan Event
}

func New(cfg *config.Config, priceOracle oracle.PriceOracle, log *logger.Logger) *Engine {
	tracker := portfolio.NewTracker(priceOracle, log)
	return &Engine{
		cfg:        cfg,
		oracle:     priceOracle,
		log:        log,
		tracker:    tracker,
		gate:       risk.NewGate(cfg.Risk, tracker, priceOracle, log),
		suite:      execution.NewSuite(executionConfig(cfg), log),
		orders:     make(map[string]*models.Order),
		inFlight:   make(map[string]context.CancelFunc),
		queueCh:    make(chan struct{}, 1),
		strategies: make(map[string]*strategyState),
		events:     make(chan Event, cfg.Engine.EventBufferSize),
	}
}

func executionConfig(cfg *config.Config) execution.Config {
	return execution.Config{
		BaseSlippage:         cfg.Execution.BaseSlippage,
		SlippageBaselineQty:  cfg.Execution.SlippageBaselineQty,
		TWAPDuration:         cfg.Execution.TWAPDuration,
		TWAPSliceInterval:    cfg.Execution.TWAPSliceInterval,
		IcebergChunkFraction: cfg.Execution.IcebergChunkFraction,
		IcebergChunkDelay:    cfg.Execution.IcebergChunkDelay,
		VWAPLookback:         cfg.Execution.VWAPLookback,
		LimitFillRatio:       cfg.Execution.LimitFillRatio,
		ShortfallUrgency:     cfg.Execution.ShortfallUrgency,
		ShortfallMaxWindow:   cfg.Execution.ShortfallMaxWindow,
	}
}

func (e *Engine) Tracker() *portfolio.Tracker { return e.tracker }
func (e *Engine) RiskGate() *risk.Gate        { return e.gate }

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Start(ctx context.Context, initialValue, initialCash float64) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logEntry().Warn("Движок уже запущен, повторный запуск пропущен.")
		return nil
	}

	e.tracker.Start(initialValue, initialCash)
	if e.cfg.Runtime.RestoreStateOnStart && e.cfg.Runtime.StateFile != "" {
		if err := e.tracker.RestoreState(e.cfg.Runtime.StateFile); err != nil {
			e.log.WithError(err).Warn("Не удалось восстановить состояние портфеля.")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(3)
	go e.dispatchLoop(runCtx)
	go e.monitorLoop(runCtx)
	go e.refreshLoop(runCtx)
	if e.cfg.Engine.RebalanceInterval > 0 {
		e.wg.Add(1)
		go e.rebalanceLoop(runCtx)
	}

	e.emit(Event{Type: EventTypeEngineStarted})
	e.logEntry().WithFields(map[string]interface{}{
		"initial_value": initialValue,
		"initial_cash":  initialCash,
	}).Info("Движок запущен.")
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return models.ErrEngineNotRunning
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.cancelAll("Движок останавливается.")

	if e.cfg.Engine.ClosePositionsOnStop {
		e.closeOpenPositions(ctx)
	}

	cancel()
	e.wg.Wait()

	if e.cfg.Runtime.StateFile != "" {
		if err := e.tracker.SaveState(e.cfg.Runtime.StateFile); err != nil {
			e.log.WithError(err).Warn("Не удалось сохранить состояние портфеля.")
		}
	}

	e.emit(Event{Type: EventTypeEngineStopped})
	e.logEntry().Info("Движок остановлен.")
	return nil
}

// closeOpenPositions исполняет встречные рыночные ордера напрямую, очередь
// к этому моменту уже отменена.
func (e *Engine) closeOpenPositions(ctx context.Context) {
	runner, err := e.suite.Runner(models.OrderTypeMarket)
	if err != nil {
		return
	}
	for _, pos := range e.tracker.Positions() {
		if pos.Qty == 0 {
			continue
		}
		side := models.OrderSideSell
		qty := pos.Qty
		if qty < 0 {
			side = models.OrderSideBuy
			qty = -qty
		}
		order := models.Order{
			ID:         newOrderID(),
			StrategyID: pos.StrategyID,
			Symbol:     pos.Symbol,
			Side:       side,
			Type:       models.OrderTypeMarket,
			Qty:        qty,
			Status:     models.OrderStatusExecuting,
			CreateTime: time.Now(),
		}
		res, err := runner.Run(ctx, order, e.oracle)
		if err != nil {
			e.logEntry().WithError(err).WithField("symbol", pos.Symbol).Warn("Не удалось закрыть позицию при остановке.")
			continue
		}
		e.applyExecution(ctx, &order, res)
		e.logEntry().WithFields(map[string]interface{}{
			"symbol": pos.Symbol,
			"side":   side,
			"qty":    qty,
		}).Info("Позиция закрыта при остановке движка.")
	}
}

func (e *Engine) monitorLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.Engine.MonitorInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := e.tracker.Snapshot()
			for _, warn := range e.gate.ReviewPortfolio(state) {
				e.logEntry().WithFields(map[string]interface{}{
					"drawdown":  state.CurrentDrawdown,
					"daily_pnl": state.DailyPnL,
				}).Warn(warn)
			}
		}
	}
}

func (e *Engine) refreshLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.Engine.RefreshInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := e.tracker.Revalue(ctx)
			e.emit(Event{Type: EventTypePortfolioUpdated, Portfolio: &state})
		}
	}
}
