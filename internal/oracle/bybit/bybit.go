package bybit

import (
	"context"
	"sync"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/logger"
	"tradecore/internal/oracle"
)

const markTTL = 10 * time.Second

type mark struct {
	price float64
	at    time.Time
}

// Oracle отдаёт цены bybit: свежие отметки приходят по WS, REST служит
// запасным каналом и источником истории.
type Oracle struct {
	rest *restClient
	ws   *wsClient
	log  *logger.Logger

	mu     sync.RWMutex
	marks  map[string]mark
	cancel context.CancelFunc
}

func New(cfg config.OracleConfig, log *logger.Logger) *Oracle {
	return &Oracle{
		rest:  newRestClient(cfg.BaseUrl, log),
		ws:    newWSClient(cfg.WSUrl, log),
		log:   log,
		marks: make(map[string]mark),
	}
}

// Connect подписывается на тикеры, без вызова Connect работает чистый REST.
func (o *Oracle) Connect(ctx context.Context, symbols []string) error {
	if err := o.ws.Connect(ctx, symbols); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	go o.consumeTicks(runCtx)
	return nil
}

func (o *Oracle) Close() {
	if o.cancel != nil {
		o.cancel()
	}
	o.ws.Close()
}

func (o *Oracle) consumeTicks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-o.ws.Ticks():
			if !ok {
				return
			}
			o.mu.Lock()
			o.marks[t.Symbol] = mark{price: t.Price, at: time.Now()}
			o.mu.Unlock()
		}
	}
}

func (o *Oracle) GetPrice(ctx context.Context, symbol string) (float64, error) {
	o.mu.RLock()
	m, ok := o.marks[symbol]
	o.mu.RUnlock()
	if ok && time.Since(m.at) < markTTL {
		return m.price, nil
	}

	snap, err := o.rest.getSnapshot(ctx, symbol)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	o.marks[symbol] = mark{price: snap.LastPrice, at: time.Now()}
	o.mu.Unlock()
	return snap.LastPrice, nil
}

func (o *Oracle) GetHistoricalPrices(ctx context.Context, symbol, timeframe string, lookback int) ([]oracle.Candle, error) {
	return o.rest.getKlines(ctx, symbol, timeframe, lookback)
}

func (o *Oracle) GetSnapshot(ctx context.Context, symbol string) (oracle.Snapshot, error) {
	return o.rest.getSnapshot(ctx, symbol)
}
