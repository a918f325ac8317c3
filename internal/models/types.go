package models

import (
	"fmt"
	"time"
)

type OrderSide string
type OrderType string
type OrderStatus string
type SignalAction string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeTWAP      OrderType = "TWAP"
	OrderTypeVWAP      OrderType = "VWAP"
	OrderTypeIceberg   OrderType = "ICEBERG"
	OrderTypeShortfall OrderType = "IMPLEMENTATION_SHORTFALL"

	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusExecuting OrderStatus = "EXECUTING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"

	SignalActionBuy  SignalAction = "BUY"
	SignalActionSell SignalAction = "SELL"
)

type Order struct {
	ID           string      `json:"id"`
	StrategyID   string      `json:"strategy_id"`
	Symbol       string      `json:"symbol"`
	Side         OrderSide   `json:"side"`
	Type         OrderType   `json:"type"`
	Qty          float64     `json:"qty"`
	LimitPrice   float64     `json:"limit_price,omitempty"`
	StopLoss     float64     `json:"stop_loss,omitempty"`
	TakeProfit   float64     `json:"take_profit,omitempty"`
	TimeInForce  string      `json:"time_in_force"`
	Status       OrderStatus `json:"status"`
	FilledQty    float64     `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	Attempts     int         `json:"attempts"`
	Slippage     float64     `json:"slippage"`
	LastError    string      `json:"last_error,omitempty"`
	CreateTime   time.Time   `json:"create_time"`
	UpdateTime   time.Time   `json:"update_time"`
}

func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusRejected
}

func (o *Order) Transition(to OrderStatus) error {
	allowed := false
	switch o.Status {
	case OrderStatusPending:
		allowed = to == OrderStatusExecuting || to == OrderStatusRejected
	case OrderStatusExecuting:
		allowed = to == OrderStatusFilled || to == OrderStatusRejected || to == OrderStatusPending
	}
	if !allowed {
		return fmt.Errorf("Недопустимый переход статуса ордера: %s -> %s", o.Status, to)
	}
	o.Status = to
	o.UpdateTime = time.Now()
	return nil
}

type Fill struct {
	OrderID   string    `json:"order_id"`
	ExecID    string    `json:"exec_id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Price     float64   `json:"price"`
	Qty       float64   `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

type Signal struct {
	Symbol      string       `json:"symbol"`
	Action      SignalAction `json:"action"`
	Strength    float64      `json:"strength"`
	OrderType   OrderType    `json:"order_type,omitempty"`
	Price       float64      `json:"price,omitempty"`
	StopLoss    float64      `json:"stop_loss,omitempty"`
	TakeProfit  float64      `json:"take_profit,omitempty"`
	TimeInForce string       `json:"time_in_force,omitempty"`
}

type Position struct {
	StrategyID    string    `json:"strategy_id"`
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	AvgPrice      float64   `json:"avg_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	OrderIDs      []string  `json:"order_ids"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *Position) Notional() float64 {
	qty := p.Qty
	if qty < 0 {
		qty = -qty
	}
	return qty * p.MarkPrice
}

type PortfolioState struct {
	Cash            float64   `json:"cash"`
	Value           float64   `json:"value"`
	DayStartValue   float64   `json:"day_start_value"`
	PeakValue       float64   `json:"peak_value"`
	CurrentDrawdown float64   `json:"current_drawdown"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	DailyPnL        float64   `json:"daily_pnl"`
	UpdatedAt       time.Time `json:"updated_at"`
}
