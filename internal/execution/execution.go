package execution

import (
	"context"
	"math"
	"time"

	"tradecore/internal/logger"
	"tradecore/internal/models"
	"tradecore/internal/oracle"

	"github.com/sirupsen/logrus"
)

type Config struct {
	BaseSlippage         float64
	SlippageBaselineQty  float64
	TWAPDuration         time.Duration
	TWAPSliceInterval    time.Duration
	IcebergChunkFraction float64
	IcebergChunkDelay    time.Duration
	VWAPLookback         int
	LimitFillRatio       float64
	ShortfallUrgency     float64
	ShortfallMaxWindow   time.Duration
}

type Result struct {
	FilledQty     float64
	AvgFillPrice  float64
	ExpectedPrice float64
	Slices        int
	Shortfall     float64
	ExecutedAt    time.Time
}

// Runner исполняет ордер через оракул цен. Неудача не меняет общее
// состояние: решение о повторе принимает менеджер ордеров.
type Runner interface {
	Algo() models.OrderType
	Run(ctx context.Context, order models.Order, po oracle.PriceOracle) (Result, error)
}

type WaitFunc func(ctx context.Context, d time.Duration) error

func sleepWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

type Suite struct {
	cfg     Config
	log     *logger.Logger
	wait    WaitFunc
	runners map[models.OrderType]Runner
}

func NewSuite(cfg Config, log *logger.Logger) *Suite {
	return newSuite(cfg, log, sleepWait)
}

// NewSuiteWithWait подменяет паузы между срезами, используется в тестах.
func NewSuiteWithWait(cfg Config, log *logger.Logger, wait WaitFunc) *Suite {
	return newSuite(cfg, log, wait)
}

func newSuite(cfg Config, log *logger.Logger, wait WaitFunc) *Suite {
	s := &Suite{cfg: cfg, log: log, wait: wait}
	s.runners = map[models.OrderType]Runner{
		models.OrderTypeMarket:    &marketRunner{suite: s},
		models.OrderTypeLimit:     &limitRunner{suite: s},
		models.OrderTypeTWAP:      &twapRunner{suite: s},
		models.OrderTypeVWAP:      &vwapRunner{suite: s},
		models.OrderTypeIceberg:   &icebergRunner{suite: s},
		models.OrderTypeShortfall: &shortfallRunner{suite: s},
	}
	return s
}

func (s *Suite) Runner(algo models.OrderType) (Runner, error) {
	runner, ok := s.runners[algo]
	if !ok {
		return nil, models.ErrUnsupportedAlgo
	}
	return runner, nil
}

func (s *Suite) Supported(algo models.OrderType) bool {
	_, ok := s.runners[algo]
	return ok
}

func (s *Suite) logEntry() *logrus.Entry {
	return s.log.WithComponent("execution")
}

// sizeTerm растёт логарифмически от размера относительно базового объёма,
// ограничен единицей.
func (c Config) sizeTerm(qty float64) float64 {
	baseline := c.SlippageBaselineQty
	if baseline <= 0 {
		baseline = 1
	}
	term := math.Log1p(qty / baseline)
	if term > 1 {
		term = 1
	}
	return term
}

// fillPrice применяет модель проскальзывания: покупка исполняется дороже,
// продажа дешевле, степень зависит от размера.
func (c Config) fillPrice(side models.OrderSide, price, qty float64) float64 {
	return c.fillPriceScaled(side, price, qty, 1)
}

func (c Config) fillPriceScaled(side models.OrderSide, price, qty, scale float64) float64 {
	term := c.sizeTerm(qty)
	if side == models.OrderSideBuy {
		return price * (1 + c.BaseSlippage*scale*(1+term))
	}
	return price * (1 - c.BaseSlippage*scale*term)
}

func relativeSlippage(expected, fill float64) float64 {
	if expected <= 0 {
		return 0
	}
	return math.Abs(fill-expected) / expected
}
