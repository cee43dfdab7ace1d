package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"tumordetect/config"
	"tumordetect/db"
	qhttp "tumordetect/http"
	"tumordetect/logging"
	"tumordetect/ml"
	"tumordetect/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	// Look for config in root even if run from cmd/
	if _, err := os.Stat(*configPath); os.IsNotExist(err) && !filepath.IsAbs(*configPath) {
		*configPath = filepath.Join("..", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, err := ml.OpenHandle(ml.HandleConfig{
		ModelType: cfg.Model.Type,
		Path:      cfg.Model.Path,
		CacheSize: cfg.Model.CacheSize,
	}, logger.Named("model"))
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	metrics.SetModelVersion(handle.Info().Version)

	hub := monitoring.NewHub(logger.Named("stream"))
	metrics.RegisterHub(hub)
	go hub.Run(ctx)
	handle.OnReload(func(info ml.ModelInfo) {
		metrics.ModelReloaded(info.Version)
		if err := hub.Publish(monitoring.ModelReloaded, info); err != nil {
			logger.Warn("publish model reload", zap.Error(err))
		}
	})

	if cfg.Model.Watch {
		go func() {
			if err := handle.Watch(ctx); err != nil {
				logger.Error("model watcher stopped", zap.Error(err))
			}
		}()
	}

	opts := qhttp.Options{
		Predictor:    handle,
		Hub:          hub,
		Metrics:      metrics,
		Logger:       logger.Named("http"),
		HistoryLimit: cfg.History.Limit,
	}
	if cfg.History.Path != "" {
		store, err := db.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.History = store
		logger.Info("prediction history enabled", zap.String("path", cfg.History.Path))
	}

	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, qhttp.NewAPI(opts), logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	return server.Stop()
}
