package models

type TradeRequest struct {
	StrategyID string
	Symbol     string
	Side       OrderSide
	Qty        float64
	Price      float64
	Meta       map[string]float64
}

func (r TradeRequest) Notional() float64 {
	return r.Qty * r.Price
}

type RiskAssessment struct {
	Approved        bool     `json:"approved"`
	AdjustedQty     float64  `json:"adjusted_qty"`
	RiskScore       float64  `json:"risk_score"`
	Warnings        []string `json:"warnings"`
	Blockers        []string `json:"blockers"`
	Recommendations []string `json:"recommendations"`
}

type CheckResult struct {
	Warnings        []string
	Blockers        []string
	Recommendations []string
	Adjusted        bool
	AdjustedQty     float64
}

func (c *CheckResult) Warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

func (c *CheckResult) Block(msg string) {
	c.Blockers = append(c.Blockers, msg)
}

func (c *CheckResult) Recommend(msg string) {
	c.Recommendations = append(c.Recommendations, msg)
}

func (c *CheckResult) Adjust(qty float64) {
	if qty < 0 {
		qty = 0
	}
	if c.Adjusted && qty >= c.AdjustedQty {
		return
	}
	c.Adjusted = true
	c.AdjustedQty = qty
}

type RiskLimits struct {
	MaxPositionSizeUSD      float64 `json:"max_position_size_usd"`
	MaxPortfolioExposure    float64 `json:"max_portfolio_exposure"`
	MaxSymbolExposure       float64 `json:"max_symbol_exposure"`
	MaxBotExposure          float64 `json:"max_bot_exposure"`
	MaxDrawdownPercent      float64 `json:"max_drawdown_percent"`
	DailyLossLimit          float64 `json:"daily_loss_limit"`
	BaseVolatilityPercent   float64 `json:"base_volatility_percent"`
	MaxVolatilityMultiplier float64 `json:"max_volatility_multiplier"`
	VolatilityLookbackDays  int     `json:"volatility_lookback_days"`
	CorrelationThreshold    float64 `json:"correlation_threshold"`
	MaxCorrelatedExposure   float64 `json:"max_correlated_exposure"`
	AlertThreshold          float64 `json:"alert_threshold"`
	WarningWeight           float64 `json:"warning_weight"`
	ReductionWeight         float64 `json:"reduction_weight"`
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSizeUSD:      10000,
		MaxPortfolioExposure:    0.8,
		MaxSymbolExposure:       0.15,
		MaxBotExposure:          0.3,
		MaxDrawdownPercent:      0.15,
		DailyLossLimit:          0.05,
		BaseVolatilityPercent:   0.02,
		MaxVolatilityMultiplier: 2.0,
		VolatilityLookbackDays:  30,
		CorrelationThreshold:    0.7,
		MaxCorrelatedExposure:   0.25,
		AlertThreshold:          0.8,
		WarningWeight:           0.1,
		ReductionWeight:         0.3,
	}
}
