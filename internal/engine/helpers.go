package engine

import (
	"context"
	"math"
	"time"

	"tradecore/internal/models"
)

func (e *Engine) withRetryPrice(ctx context.Context, symbol string) (float64, error) {
	var lastErr error
	var reconnect time.Duration = 1 * time.Second
	for i := 0; i < 5; i++ {
		price, err := e.oracle.GetPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		lastErr = err
		wait := time.Duration(math.Min(float64(reconnect), float64(reconnect*30)))
		if models.IsRateLimitError(err) {
			wait = time.Duration(math.Min(float64(reconnect*4), float64(reconnect*30)))
		}
		e.log.WithSymbol(symbol).Info("Ошибка. Повторяем запрос цены")
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
		reconnect *= 2
	}
	return 0, lastErr
}
