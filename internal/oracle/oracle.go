package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Candle struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

type Snapshot struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"last_price"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChange24h float64 `json:"price_change_24h"`
}

type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetHistoricalPrices(ctx context.Context, symbol, timeframe string, lookback int) ([]Candle, error)
	GetSnapshot(ctx context.Context, symbol string) (Snapshot, error)
}

// Static отдаёт фиксированные цены, используется в тестах и dry-run.
type Static struct {
	mu        sync.Mutex
	prices    map[string]float64
	series    map[string][]Candle
	snapshots map[string]Snapshot
}

func NewStatic() *Static {
	return &Static{
		prices:    map[string]float64{},
		series:    map[string][]Candle{},
		snapshots: map[string]Snapshot{},
	}
}

func (s *Static) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

func (s *Static) SetSeries(symbol string, closes []float64) {
	candles := make([]Candle, 0, len(closes))
	ts := time.Now().Add(-time.Duration(len(closes)) * 24 * time.Hour)
	for i, c := range closes {
		candles = append(candles, Candle{
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
			Timestamp: ts.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	s.mu.Lock()
	s.series[symbol] = candles
	s.mu.Unlock()
}

func (s *Static) SetCandles(symbol string, candles []Candle) {
	s.mu.Lock()
	s.series[symbol] = candles
	s.mu.Unlock()
}

func (s *Static) SetSnapshot(symbol string, snap Snapshot) {
	s.mu.Lock()
	s.snapshots[symbol] = snap
	s.mu.Unlock()
}

func (s *Static) GetPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("Нет цены для инструмента: %s", symbol)
	}
	return price, nil
}

func (s *Static) GetHistoricalPrices(ctx context.Context, symbol, timeframe string, lookback int) ([]Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candles, ok := s.series[symbol]
	if !ok {
		return nil, fmt.Errorf("Нет истории для инструмента: %s", symbol)
	}
	if lookback > 0 && len(candles) > lookback {
		candles = candles[len(candles)-lookback:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (s *Static) GetSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[symbol]; ok {
		return snap, nil
	}
	price, ok := s.prices[symbol]
	if !ok {
		return Snapshot{}, fmt.Errorf("Нет данных для инструмента: %s", symbol)
	}
	return Snapshot{
		Symbol:    symbol,
		LastPrice: price,
		Bid:       price,
		Ask:       price,
	}, nil
}

func Closes(candles []Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		out = append(out, c.Close)
	}
	return out
}

// Returns считает дневные доходности по ценам закрытия.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}
