package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"

	"github.com/Ramsey-B/yarrow/config"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
	"github.com/Ramsey-B/yarrow/pkg/tracing/exporters"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, sync, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer sync()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("yarrow exited with error")
		sync()
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = level

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}

func run(cfg *config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, cfg.OTLPEnabled, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}

	a := newApp(cfg, logger)
	if err := a.startup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	a.health.SetReady(true)
	logger.WithField("port", cfg.Port).Info("yarrow is ready")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-a.serverErr:
		logger.WithError(err).Error("HTTP server stopped unexpectedly")
	}
	a.health.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.startup.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Failed to stop cleanly")
	}
	if err := shutdownTracing(stopCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}
	return nil
}
