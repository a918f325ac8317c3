package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradecore/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}

type wsClient struct {
	url          string
	log          *logger.Logger
	conn         *websocket.Conn
	ticks        chan tick
	stopCh       chan struct{}
	stopOnce     sync.Once
	symbols      []string
	reconnectMin time.Duration
	reconnectMax time.Duration
}

type wsMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type subscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func newWSClient(url string, log *logger.Logger) *wsClient {
	return &wsClient{
		url:          url,
		log:          log,
		ticks:        make(chan tick, 100),
		stopCh:       make(chan struct{}),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

func (w *wsClient) logEntry() *logrus.Entry {
	return w.log.WithComponent("bybit_ws")
}

func (w *wsClient) Connect(ctx context.Context, symbols []string) error {
	w.logEntry().WithField("url", w.url).Info("Подключение к WS.")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("Не удалось подключиться к WS: %w", err)
	}

	w.conn = conn
	w.conn.SetReadLimit(2 << 20)
	w.symbols = symbols

	if err := w.subscribe(); err != nil {
		return err
	}

	w.logEntry().Info("WS соединение установлено.")
	go w.readLoop()
	return nil
}

func (w *wsClient) subscribe() error {
	topics := make([]string, 0, len(w.symbols))
	for _, symbol := range w.symbols {
		topics = append(topics, "tickers."+symbol)
	}
	return w.conn.WriteJSON(subscribeMessage{Op: "subscribe", Args: topics})
}

func (w *wsClient) Ticks() <-chan tick {
	return w.ticks
}

func (w *wsClient) Close() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.conn != nil {
			_ = w.conn.Close()
		}
	})
}

func (w *wsClient) readLoop() {
	w.logEntry().Debug("readLoop запущен.")

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.logEntry().WithError(err).Warn("Ошибка чтения WS.")
			if !w.reconnect() {
				return
			}
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось разобрать WS сообщение.")
			continue
		}

		if strings.HasPrefix(msg.Topic, "tickers.") {
			w.handleTicker(msg)
		}
	}
}

func (w *wsClient) handleTicker(msg wsMessage) {
	var data struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		w.logEntry().WithError(err).Warn("Не удалось разобрать ticker.")
		return
	}
	if data.LastPrice == "" {
		return
	}

	price, err := strconv.ParseFloat(data.LastPrice, 64)
	if err != nil {
		w.logEntry().WithError(err).Warn("Некорректная цена в ticker.")
		return
	}

	select {
	case w.ticks <- tick{Symbol: data.Symbol, Price: price, Time: time.UnixMilli(msg.TS)}:
	default:
		// Потребитель отстаёт, тик отбрасывается, придёт следующий.
	}
}

func (w *wsClient) reconnect() bool {
	backoff := w.reconnectMin

	for {
		select {
		case <-w.stopCh:
			return false
		default:
		}

		w.logEntry().Info("Попытка переподключения к WS.")
		time.Sleep(backoff)

		conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
		if err != nil {
			w.logEntry().WithError(err).Warn("Не удалось переподключиться к WS.")
			backoff = w.nextBackoff(backoff)
			continue
		}

		if w.conn != nil {
			_ = w.conn.Close()
		}
		w.conn = conn
		w.conn.SetReadLimit(2 << 20)

		if err := w.subscribe(); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось повторно подписаться на WS.")
			backoff = w.nextBackoff(backoff)
			continue
		}

		w.logEntry().Info("WS переподключён и подписки восстановлены.")
		return true
	}
}

func (w *wsClient) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.reconnectMax {
		return w.reconnectMax
	}
	return next
}
