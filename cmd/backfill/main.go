package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/backfill"
	"github.com/aihub/knowledge-engine/internal/config"
	"github.com/aihub/knowledge-engine/internal/di"
	"github.com/aihub/knowledge-engine/internal/logger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAppConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		logger.Fatal("failed to register providers", zap.Error(err))
	}

	// SIGINT/SIGTERM触发优雅停止，任务在下一个安全点退出并保留游标
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+cfg.Metrics.Port, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	err = di.Invoke(func(job *backfill.Job) error {
		summary, err := job.Run(ctx)
		if summary != nil {
			logger.Info("backfill summary",
				zap.Int("scanned", summary.Scanned),
				zap.Int("migrated", summary.Migrated),
				zap.Int("skipped", summary.Skipped),
				zap.Int("failed", summary.Failed))
		}
		return err
	})
	if err != nil {
		logger.Fatal("backfill run failed", zap.Error(err))
	}
}
