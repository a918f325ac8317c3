package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"tradecore/internal/models"

	"github.com/spf13/viper"
)

type Config struct {
	Engine    EngineConfig
	Risk      models.RiskLimits
	Execution ExecutionConfig
	Oracle    OracleConfig
	Runtime   RuntimeConfig
}

type EngineConfig struct {
	MaxOrdersPerSecond   float64
	RetryAttempts        int
	EventBufferSize      int
	SignalThreshold      float64
	BaseOrderFraction    float64
	MonitorInterval      time.Duration
	RefreshInterval      time.Duration
	RebalanceInterval    time.Duration
	ClosePositionsOnStop bool
}

type ExecutionConfig struct {
	BaseSlippage         float64
	SlippageBaselineQty  float64
	TWAPDuration         time.Duration
	TWAPSliceInterval    time.Duration
	IcebergChunkFraction float64
	IcebergChunkDelay    time.Duration
	VWAPLookback         int
	LimitFillRatio       float64
	ShortfallUrgency     float64
	ShortfallMaxWindow   time.Duration
}

type OracleConfig struct {
	BaseUrl string
	WSUrl   string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type RuntimeConfig struct {
	RestoreStateOnStart bool
	StateFile           string
	InitialValue        float64
	InitialCash         float64
	Log                 LogConfig
}

func Load() (*Config, error) {

	cfg := &Config{}
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	viper.ReadInConfig()

	setDefaults()

	cfg.Engine = EngineConfig{
		MaxOrdersPerSecond:   viper.GetFloat64("engine.max_orders_per_second"),
		RetryAttempts:        viper.GetInt("engine.retry_attempts"),
		EventBufferSize:      viper.GetInt("engine.event_buffer_size"),
		SignalThreshold:      viper.GetFloat64("engine.signal_threshold"),
		BaseOrderFraction:    viper.GetFloat64("engine.base_order_fraction"),
		MonitorInterval:      viper.GetDuration("engine.monitor_interval"),
		RefreshInterval:      viper.GetDuration("engine.refresh_interval"),
		RebalanceInterval:    viper.GetDuration("engine.rebalance_interval"),
		ClosePositionsOnStop: viper.GetBool("engine.close_positions_on_stop"),
	}

	cfg.Risk = models.RiskLimits{
		MaxPositionSizeUSD:      viper.GetFloat64("risk.max_position_size_usd"),
		MaxPortfolioExposure:    viper.GetFloat64("risk.max_portfolio_exposure"),
		MaxSymbolExposure:       viper.GetFloat64("risk.max_symbol_exposure"),
		MaxBotExposure:          viper.GetFloat64("risk.max_bot_exposure"),
		MaxDrawdownPercent:      viper.GetFloat64("risk.max_drawdown_percent"),
		DailyLossLimit:          viper.GetFloat64("risk.daily_loss_limit"),
		BaseVolatilityPercent:   viper.GetFloat64("risk.base_volatility_percent"),
		MaxVolatilityMultiplier: viper.GetFloat64("risk.max_volatility_multiplier"),
		VolatilityLookbackDays:  viper.GetInt("risk.volatility_lookback_days"),
		CorrelationThreshold:    viper.GetFloat64("risk.correlation_threshold"),
		MaxCorrelatedExposure:   viper.GetFloat64("risk.max_correlated_exposure"),
		AlertThreshold:          viper.GetFloat64("risk.alert_threshold"),
		WarningWeight:           viper.GetFloat64("risk.warning_weight"),
		ReductionWeight:         viper.GetFloat64("risk.reduction_weight"),
	}

	cfg.Execution = ExecutionConfig{
		BaseSlippage:         viper.GetFloat64("execution.base_slippage"),
		SlippageBaselineQty:  viper.GetFloat64("execution.slippage_baseline_qty"),
		TWAPDuration:         viper.GetDuration("execution.twap_duration"),
		TWAPSliceInterval:    viper.GetDuration("execution.twap_slice_interval"),
		IcebergChunkFraction: viper.GetFloat64("execution.iceberg_chunk_fraction"),
		IcebergChunkDelay:    viper.GetDuration("execution.iceberg_chunk_delay"),
		VWAPLookback:         viper.GetInt("execution.vwap_lookback"),
		LimitFillRatio:       viper.GetFloat64("execution.limit_fill_ratio"),
		ShortfallUrgency:     viper.GetFloat64("execution.shortfall_urgency"),
		ShortfallMaxWindow:   viper.GetDuration("execution.shortfall_max_window"),
	}

	cfg.Oracle = OracleConfig{
		BaseUrl: viper.GetString("oracle.base_url"),
		WSUrl:   viper.GetString("oracle.ws_url"),
	}

	cfg.Runtime = RuntimeConfig{
		RestoreStateOnStart: viper.GetBool("runtime.restore_state_on_start"),
		StateFile:           viper.GetString("runtime.state_file"),
		InitialValue:        viper.GetFloat64("runtime.initial_value"),
		InitialCash:         viper.GetFloat64("runtime.initial_cash"),
		Log: LogConfig{
			Level:      viper.GetString("runtime.log.level"),
			Format:     viper.GetString("runtime.log.format"),
			File:       envSub("runtime.log.file"),
			MaxSize:    viper.GetInt("runtime.log.max_size"),
			MaxBackups: viper.GetInt("runtime.log.max_backups"),
			MaxAge:     viper.GetInt("runtime.log.max_age"),
			Compress:   viper.GetBool("runtime.log.compress"),
		},
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("engine.max_orders_per_second", 2.0)
	viper.SetDefault("engine.retry_attempts", 3)
	viper.SetDefault("engine.event_buffer_size", 256)
	viper.SetDefault("engine.signal_threshold", 0.3)
	viper.SetDefault("engine.base_order_fraction", 0.1)
	viper.SetDefault("engine.monitor_interval", "5s")
	viper.SetDefault("engine.refresh_interval", "10s")
	viper.SetDefault("engine.rebalance_interval", "1m")

	viper.SetDefault("risk.max_position_size_usd", 10000.0)
	viper.SetDefault("risk.max_portfolio_exposure", 0.8)
	viper.SetDefault("risk.max_symbol_exposure", 0.15)
	viper.SetDefault("risk.max_bot_exposure", 0.3)
	viper.SetDefault("risk.max_drawdown_percent", 0.15)
	viper.SetDefault("risk.daily_loss_limit", 0.05)
	viper.SetDefault("risk.base_volatility_percent", 0.02)
	viper.SetDefault("risk.max_volatility_multiplier", 2.0)
	viper.SetDefault("risk.volatility_lookback_days", 30)
	viper.SetDefault("risk.correlation_threshold", 0.7)
	viper.SetDefault("risk.max_correlated_exposure", 0.25)
	viper.SetDefault("risk.alert_threshold", 0.8)
	viper.SetDefault("risk.warning_weight", 0.1)
	viper.SetDefault("risk.reduction_weight", 0.3)

	viper.SetDefault("execution.base_slippage", 0.001)
	viper.SetDefault("execution.slippage_baseline_qty", 100.0)
	viper.SetDefault("execution.twap_duration", "5m")
	viper.SetDefault("execution.twap_slice_interval", "30s")
	viper.SetDefault("execution.iceberg_chunk_fraction", 0.1)
	viper.SetDefault("execution.iceberg_chunk_delay", "2s")
	viper.SetDefault("execution.vwap_lookback", 20)
	viper.SetDefault("execution.limit_fill_ratio", 1.0)
	viper.SetDefault("execution.shortfall_urgency", 0.5)
	viper.SetDefault("execution.shortfall_max_window", "10m")

	viper.SetDefault("runtime.state_file", "data/state.json")
	viper.SetDefault("runtime.initial_value", 100000.0)
	viper.SetDefault("runtime.initial_cash", 100000.0)
	viper.SetDefault("runtime.log.level", "info")
}

func envSub(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return ""
	}

	re := regexp.MustCompile(`\$\{(\w+)\}`)
	return re.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
