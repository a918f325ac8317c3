package risk

import (
	"context"
	"fmt"
	"sync"

	"tradecore/internal/logger"
	"tradecore/internal/models"
	"tradecore/internal/oracle"
	"tradecore/internal/portfolio"

	"github.com/sirupsen/logrus"
)

// Gate выполняет предторговую оценку риска. Каждая проверка возвращает
// частичный результат; итог собирается конкатенацией списков и минимумом
// предложенных объёмов. Любая внутренняя ошибка закрывает сделку, а не
// пропускает её.
type Gate struct {
	mu      sync.Mutex
	limits  models.RiskLimits
	tracker *portfolio.Tracker
	oracle  oracle.PriceOracle
	log     *logger.Logger
}

func NewGate(limits models.RiskLimits, tracker *portfolio.Tracker, priceOracle oracle.PriceOracle, log *logger.Logger) *Gate {
	return &Gate{
		limits:  limits,
		tracker: tracker,
		oracle:  priceOracle,
		log:     log,
	}
}

func (g *Gate) logEntry() *logrus.Entry {
	return g.log.WithComponent("risk")
}

func (g *Gate) Limits() models.RiskLimits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// UpdateLimits подменяет лимиты целиком, без фоновой мутации конфига.
func (g *Gate) UpdateLimits(limits models.RiskLimits) {
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()
	g.logEntry().Info("Лимиты риска обновлены.")
}

type checkFunc func(ctx context.Context, req models.TradeRequest, limits models.RiskLimits, state models.PortfolioState) (models.CheckResult, error)

func (g *Gate) Evaluate(ctx context.Context, req models.TradeRequest) (assessment models.RiskAssessment) {
	defer func() {
		if r := recover(); r != nil {
			g.logEntry().WithField("panic", fmt.Sprintf("%v", r)).Error("Сбой оценки риска, сделка заблокирована.")
			assessment = failClosed()
		}
	}()

	if req.Qty <= 0 || req.Price <= 0 || req.Symbol == "" {
		return models.RiskAssessment{
			Approved:  false,
			RiskScore: 1.0,
			Blockers:  []string{"Некорректный запрос на сделку."},
		}
	}

	limits := g.Limits()
	state := g.tracker.Snapshot()

	checks := []checkFunc{
		g.checkPositionLimits,
		g.checkPortfolioExposure,
		g.checkDrawdownProtection,
		g.checkVolatilitySizing,
		g.checkCorrelationLimits,
		g.checkMarketConditions,
	}

	merged := models.RiskAssessment{AdjustedQty: req.Qty}
	for _, check := range checks {
		res, err := check(ctx, req, limits, state)
		if err != nil {
			g.logEntry().WithError(err).WithFields(map[string]interface{}{
				"strategy_id": req.StrategyID,
				"symbol":      req.Symbol,
			}).Error("Ошибка проверки риска, сделка заблокирована.")
			return failClosed()
		}
		merged.Warnings = append(merged.Warnings, res.Warnings...)
		merged.Blockers = append(merged.Blockers, res.Blockers...)
		merged.Recommendations = append(merged.Recommendations, res.Recommendations...)
		if res.Adjusted && res.AdjustedQty < merged.AdjustedQty {
			merged.AdjustedQty = res.AdjustedQty
		}
	}

	if merged.AdjustedQty < 0 {
		merged.AdjustedQty = 0
	}
	if merged.AdjustedQty > req.Qty {
		merged.AdjustedQty = req.Qty
	}

	if len(merged.Blockers) > 0 {
		merged.Approved = false
		merged.RiskScore = 0
		g.logEntry().WithFields(map[string]interface{}{
			"strategy_id": req.StrategyID,
			"symbol":      req.Symbol,
			"blockers":    merged.Blockers,
		}).Warn("Сделка заблокирована риск-контролем.")
		return merged
	}

	reduction := 0.0
	if req.Qty > 0 {
		reduction = (req.Qty - merged.AdjustedQty) / req.Qty
	}
	score := float64(len(merged.Warnings))*limits.WarningWeight + reduction*limits.ReductionWeight
	if score > 1 {
		score = 1
	}
	merged.RiskScore = score
	merged.Approved = score <= 0.8

	g.logEntry().WithFields(map[string]interface{}{
		"strategy_id":  req.StrategyID,
		"symbol":       req.Symbol,
		"requested":    req.Qty,
		"adjusted_qty": merged.AdjustedQty,
		"score":        score,
		"warnings":     len(merged.Warnings),
		"approved":     merged.Approved,
	}).Debug("risk_assessment")

	return merged
}

func failClosed() models.RiskAssessment {
	return models.RiskAssessment{
		Approved:  false,
		RiskScore: 1.0,
		Blockers:  []string{"Внутренняя ошибка оценки риска."},
	}
}

// ReviewPortfolio возвращает предупреждения мониторинга по текущему
// состоянию портфеля, без блокировки сделок.
func (g *Gate) ReviewPortfolio(state models.PortfolioState) []string {
	limits := g.Limits()
	var warnings []string
	if limits.MaxDrawdownPercent > 0 && state.CurrentDrawdown > limits.MaxDrawdownPercent*limits.AlertThreshold {
		warnings = append(warnings, fmt.Sprintf("Просадка %.2f%% приближается к лимиту %.2f%%.", state.CurrentDrawdown*100, limits.MaxDrawdownPercent*100))
	}
	if limits.DailyLossLimit > 0 && state.DailyPnL < -limits.DailyLossLimit*limits.AlertThreshold {
		warnings = append(warnings, fmt.Sprintf("Дневной убыток %.2f%% приближается к лимиту %.2f%%.", -state.DailyPnL*100, limits.DailyLossLimit*100))
	}
	return warnings
}
