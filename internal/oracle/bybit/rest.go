package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradecore/internal/logger"
	"tradecore/internal/oracle"
)

type restClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

type tickerResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		LastPrice    string `json:"lastPrice"`
		Bid1Price    string `json:"bid1Price"`
		Ask1Price    string `json:"ask1Price"`
		Volume24h    string `json:"volume24h"`
		Turnover24h  string `json:"turnover24h"`
		Price24hPcnt string `json:"price24hPcnt"`
	} `json:"list"`
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

func newRestClient(baseURL string, log *logger.Logger) *restClient {
	return &restClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (c *restClient) doRequest(ctx context.Context, path string, params url.Values, out any) error {
	urlStr := c.baseURL + path
	if len(params) > 0 {
		urlStr += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Ошибка запроса: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("Не удалось прочитать ответ: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("Не удалось разобрать ответ: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("Неуспешный статус: %s", resp.Status)
	}
	return nil
}

func (c *restClient) getSnapshot(ctx context.Context, symbol string) (oracle.Snapshot, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)

	var resp bybitResponse[tickerResult]
	if err := c.doRequest(ctx, "/v5/market/tickers", params, &resp); err != nil {
		return oracle.Snapshot{}, err
	}
	if resp.RetCode != 0 {
		return oracle.Snapshot{}, fmt.Errorf("Ошибка bybit: %s (code=%d)", resp.RetMsg, resp.RetCode)
	}
	if len(resp.Result.List) == 0 {
		return oracle.Snapshot{}, fmt.Errorf("Торговая пара не найдена: %s", symbol)
	}

	t := resp.Result.List[0]
	last, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return oracle.Snapshot{}, fmt.Errorf("Некорректное значение lastPrice=%q: %w", t.LastPrice, err)
	}
	bid, _ := strconv.ParseFloat(t.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(t.Ask1Price, 64)
	volume, _ := strconv.ParseFloat(t.Turnover24h, 64)
	change, _ := strconv.ParseFloat(t.Price24hPcnt, 64)

	return oracle.Snapshot{
		Symbol:         t.Symbol,
		LastPrice:      last,
		Bid:            bid,
		Ask:            ask,
		Volume24h:      volume,
		PriceChange24h: change,
	}, nil
}

var klineIntervals = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"1h":  "60",
	"4h":  "240",
	"1d":  "D",
}

func (c *restClient) getKlines(ctx context.Context, symbol, timeframe string, lookback int) ([]oracle.Candle, error) {
	interval, ok := klineIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("Неизвестный таймфрейм: %s", timeframe)
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(lookback))

	var resp bybitResponse[klineResult]
	if err := c.doRequest(ctx, "/v5/market/kline", params, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("Ошибка bybit: %s (code=%d)", resp.RetMsg, resp.RetCode)
	}

	// Bybit отдаёт свечи от новых к старым, разворачиваем в хронологию.
	candles := make([]oracle.Candle, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		row := resp.Result.List[i]
		if len(row) < 6 {
			continue
		}
		tsMs, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePrice, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, oracle.Candle{
			Timestamp: time.UnixMilli(tsMs),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}
	return candles, nil
}
