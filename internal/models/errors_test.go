package models

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetriableExecutionError(t *testing.T) {
	assert.False(t, IsRetriableExecutionError(nil))
	assert.False(t, IsRetriableExecutionError(ErrUnsupportedAlgo))
	assert.False(t, IsRetriableExecutionError(NewValidationError("нет инструмента")))
	assert.False(t, IsRetriableExecutionError(context.Canceled))
	assert.False(t, IsRetriableExecutionError(context.DeadlineExceeded))
	assert.True(t, IsRetriableExecutionError(errors.New("timeout")))
	assert.True(t, IsRetriableExecutionError(ErrPriceNotAchievable))
}
