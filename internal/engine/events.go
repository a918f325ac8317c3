package engine

import (
	"time"

	"tradecore/internal/models"
)

type EventType string

const (
	EventTypeEngineStarted EventType = "engine:started"
	EventTypeEngineStopped EventType = "engine:stopped"

	EventTypeOrderCreated   EventType = "order:created"
	EventTypeOrderExecuting EventType = "order:executing"
	EventTypeOrderFilled    EventType = "order:filled"
	EventTypeOrderRejected  EventType = "order:rejected"
	EventTypeOrderRetry     EventType = "order:retry"

	EventTypePositionUpdated  EventType = "position:updated"
	EventTypePortfolioUpdated EventType = "portfolio:updated"

	EventTypeStrategyExecuted        EventType = "strategy:executed"
	EventTypeStrategyExecutionFailed EventType = "strategy:execution_failed"
)

type Event struct {
	Type       EventType              `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	StrategyID string                 `json:"strategy_id,omitempty"`
	Order      *models.Order          `json:"order,omitempty"`
	Position   *models.Position       `json:"position,omitempty"`
	Portfolio  *models.PortfolioState `json:"portfolio,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func (e *Engine) Events() <-chan Event {
	return e.events
}

// emit не блокирует: при переполненном буфере событие отбрасывается,
// подписчик обязан успевать читать.
func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case e.events <- ev:
	default:
		e.logEntry().WithField("event_type", string(ev.Type)).Warn("Буфер событий переполнен, событие отброшено.")
	}
}

func (e *Engine) emitOrder(t EventType, order models.Order) {
	o := order
	e.emit(Event{Type: t, StrategyID: order.StrategyID, Order: &o})
}
