package engine

import (
	"sync"

	"tradecore/internal/execution"
	"tradecore/internal/models"
)

type executionStats struct {
	mu           sync.Mutex
	filled       int64
	rejected     int64
	retries      int64
	slippageSum  float64
	shortfallSum float64
}

func (s *executionStats) recordFill(res execution.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filled++
	s.slippageSum += res.Shortfall
	s.shortfallSum += res.Shortfall
}

func (s *executionStats) recordReject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected++
}

func (s *executionStats) recordRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

type Statistics struct {
	IsRunning        bool    `json:"is_running"`
	PortfolioValue   float64 `json:"portfolio_value"`
	Cash             float64 `json:"cash"`
	ActiveStrategies int     `json:"active_strategies"`
	TotalPositions   int     `json:"total_positions"`
	PendingOrders    int     `json:"pending_orders"`
	FilledOrders     int64   `json:"filled_orders"`
	RejectedOrders   int64   `json:"rejected_orders"`
	RetriedOrders    int64   `json:"retried_orders"`
	AvgSlippage      float64 `json:"avg_slippage"`
	CurrentDrawdown  float64 `json:"current_drawdown"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	DailyPnL         float64 `json:"daily_pnl"`
}

// Statistics собирает сводку состояния, вызов безопасен в любой момент
// жизни движка.
func (e *Engine) Statistics() Statistics {
	state := e.tracker.Snapshot()

	e.mu.Lock()
	pending := 0
	for _, id := range e.queue {
		if order, ok := e.orders[id]; ok && order.Status == models.OrderStatusPending {
			pending++
		}
	}
	stats := Statistics{
		IsRunning:        e.running,
		ActiveStrategies: len(e.strategies),
		PendingOrders:    pending,
	}
	e.mu.Unlock()

	e.stats.mu.Lock()
	stats.FilledOrders = e.stats.filled
	stats.RejectedOrders = e.stats.rejected
	stats.RetriedOrders = e.stats.retries
	if e.stats.filled > 0 {
		stats.AvgSlippage = e.stats.slippageSum / float64(e.stats.filled)
	}
	e.stats.mu.Unlock()

	stats.PortfolioValue = state.Value
	stats.Cash = state.Cash
	stats.CurrentDrawdown = state.CurrentDrawdown
	stats.MaxDrawdown = state.MaxDrawdown
	stats.DailyPnL = state.DailyPnL
	stats.TotalPositions = e.tracker.OpenPositions()
	return stats
}
