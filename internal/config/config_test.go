package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.Engine.MaxOrdersPerSecond)
	assert.Equal(t, 3, cfg.Engine.RetryAttempts)
	assert.Equal(t, 0.3, cfg.Engine.SignalThreshold)
	assert.Equal(t, 0.1, cfg.Engine.BaseOrderFraction)
	assert.Equal(t, 0.15, cfg.Risk.MaxDrawdownPercent)
	assert.Equal(t, 0.1, cfg.Risk.WarningWeight)
	assert.Equal(t, 0.3, cfg.Risk.ReductionWeight)
	assert.Equal(t, 0.001, cfg.Execution.BaseSlippage)
	assert.Equal(t, 30*time.Second, cfg.Execution.TWAPSliceInterval)
	assert.Equal(t, 100000.0, cfg.Runtime.InitialCash)
}

func TestEnvSubstitution(t *testing.T) {
	viper.Reset()
	t.Setenv("ENGINE_TEST_HOST", "node-7")
	viper.Set("runtime.log.file", "logs/engine-${ENGINE_TEST_HOST}.log")

	assert.Equal(t, "logs/engine-node-7.log", envSub("runtime.log.file"))
}
