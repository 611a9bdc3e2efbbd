package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/posting"
	"github.com/odyssey-erp/stockledger/internal/repost"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
	"github.com/odyssey-erp/stockledger/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "jobs":
			os.Exit(runJobs(ctx, cfg, os.Args[2:]))
		case "migrate":
			if err := migrate(ctx, cfg, logger); err != nil {
				logger.Error("migrate", slog.Any("error", err))
				os.Exit(1)
			}
			return
		case "serve":
		default:
			logger.Error("unknown command", slog.String("command", os.Args[1]))
			os.Exit(2)
		}
	}
	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedisOpt())
	if err != nil {
		slog.Default().Error("jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() {
		_ = jobsCLI.Close()
	}()
	return jobsCLI.JobsCommand(ctx, cli.JobsOptions{Args: args, Stdout: os.Stdout, Stderr: os.Stderr})
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("stockledger")...)
	if err != nil {
		return err
	}
	defer pool.Close()
	applied, err := migrations.Apply(ctx, pool)
	for _, name := range applied {
		logger.Info("migration applied", slog.String("name", name))
	}
	return err
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("stockledger")...)
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
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
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

	lockTimeout := db.WithLockTimeout(10 * time.Second)
	engine := posting.NewEngine(cfg.PostingConfig(), nil, logger)
	repostSvc := repost.NewService(
		repost.NewRepository(pool, lockTimeout),
		engine,
		repostCfg,
		logger,
		repost.NewMetrics(metrics.Registerer()),
	).WithLocker(repost.NewRedisLocker(redisClient)).WithGLReposter(gl)
	if notifier := app.NewNotifier(cfg, taskClient); notifier != nil {
		repostSvc.WithNotifier(notifier)
	}
	postingSvc := posting.NewService(
		ledger.NewRepository(pool, lockTimeout),
		engine,
		repostSvc,
		logger,
		posting.NewMetrics(metrics.Registerer()),
	)

	movementKeys := shared.NewIdempotencyStore(pool, posting.IdempotencyModule, cfg.IdempotencyKeyRetention)
	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PostingHandler: posting.NewHandler(logger, postingSvc).WithIdempotency(movementKeys),
		RepostHandler:  repost.NewHandler(logger, repostSvc),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
