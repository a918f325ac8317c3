package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEngineNotRunning   = errors.New("Движок не запущен.")
	ErrValidation         = errors.New("Ошибка валидации.")
	ErrPriceNotAchievable = errors.New("Цена не достигнута для лимитного ордера.")
	ErrUnsupportedAlgo    = errors.New("Неизвестный алгоритм исполнения.")
)

func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w %s", ErrValidation, fmt.Sprintf(format, args...))
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Неустранимые ошибки исполнения не ставятся в повтор.
func IsRetriableExecutionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedAlgo) || IsValidationError(err) {
		return false
	}
	// Отмена контекста означает снятие ордера, а не сбой исполнения.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "10006") || strings.Contains(msg, "Too many visits!")
}
