package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/stockledger/internal/app"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/posting"
	"github.com/odyssey-erp/stockledger/internal/repost"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("stockledger-worker")...)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpt := cfg.AsynqRedisOpt()
	taskClient, err := jobs.NewClient(redisOpt)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	repostCfg, err := cfg.RepostConfig()
	if err != nil {
		return err
	}
	gl, closeGL, err := app.NewGLReposter(cfg, taskClient, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeGL(); err != nil {
			logger.Warn("gl sink close", slog.Any("error", err))
		}
	}()
	downstream, closeDownstream := app.NewGLDownstream(cfg, logger)
	defer func() {
		if err := closeDownstream(); err != nil {
			logger.Warn("gl downstream close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	engine := posting.NewEngine(cfg.PostingConfig(), nil, logger)
	repostSvc := repost.NewService(
		repost.NewRepository(pool, db.WithLockTimeout(10*time.Second)),
		engine,
		repostCfg,
		logger,
		repost.NewMetrics(prometheus.DefaultRegisterer),
	).WithLocker(repost.NewRedisLocker(redisClient)).WithGLReposter(gl)
	if notifier := app.NewNotifier(cfg, taskClient); notifier != nil {
		repostSvc.WithNotifier(notifier)
	}

	repostJob := jobs.NewRepostJob(repostSvc, logger, metrics)
	repostJob.Keys = shared.NewIdempotencyStore(pool, posting.IdempotencyModule, cfg.IdempotencyKeyRetention)
	cron, err := repostJob.Cron()
	if err != nil {
		return err
	}

	var sender jobs.MailSender
	if cfg.SMTPHost != "" {
		sender = jobs.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}
	}
	mailJob := &jobs.MailJob{Sender: sender, Logger: logger, Metrics: metrics}
	glJob := &jobs.GLRepostJob{Downstream: downstream, Logger: logger, Metrics: metrics}

	handlers := append(repostJob.Handlers(),
		jobs.TaskHandler{Type: jobs.TaskGLRepost, Handler: glJob.Handle},
		jobs.TaskHandler{Type: jobs.TaskTypeSendEmail, Handler: mailJob.Handle},
	)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:       redisOpt,
		Logger:          logger,
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: cfg.WorkerShutdownTimeout,
		Handlers:        handlers,
		Cron:            cron,
	})
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}
