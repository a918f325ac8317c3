package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/logger"
	"tradecore/internal/oracle/bybit"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	logger.Info("Ядро исполнения запущено.")

	priceOracle := bybit.New(cfg.Oracle, logger)
	defer priceOracle.Close()

	eng := engine.New(cfg, priceOracle, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for ev := range eng.Events() {
			logger.WithFields(map[string]interface{}{
				"event_type": string(ev.Type),
			}).Debug("Событие движка.")
		}
	}()

	if err := eng.Start(ctx, cfg.Runtime.InitialValue, cfg.Runtime.InitialCash); err != nil {
		logger.WithError(err).Fatal("Движок завершился с ошибкой.")
	}

	<-sigCh

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Ошибка при остановке движка.")
	}

	logger.Info("Ядро исполнения остановлено.")
}
