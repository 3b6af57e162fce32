package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/riverline-data/ingestor/internal/breaker"
	"github.com/riverline-data/ingestor/internal/clock"
	"github.com/riverline-data/ingestor/internal/config"
	amqpdelivery "github.com/riverline-data/ingestor/internal/delivery/amqp"
	"github.com/riverline-data/ingestor/internal/domain"
	"github.com/riverline-data/ingestor/internal/extract"
	"github.com/riverline-data/ingestor/internal/metrics"
	"github.com/riverline-data/ingestor/internal/orchestrator"
	"github.com/riverline-data/ingestor/internal/repository/postgres"
	redisrepo "github.com/riverline-data/ingestor/internal/repository/redis"
	"github.com/riverline-data/ingestor/internal/retry"
	"github.com/riverline-data/ingestor/internal/typemap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting ingestion engine")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	// Connect to Redis
	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Persistence: one Store serves job definitions, the watermark ledger,
	// and the audit trail. The run lock lives in Redis.
	store := postgres.NewStore(dbPool)
	runLock := redisrepo.NewRunLocker(redisClient)

	// Engine wiring
	clk := clock.Real{}
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		SuccessThreshold:  cfg.Breaker.SuccessThreshold,
		CoolDown:          cfg.Breaker.CoolDown,
		HalfOpenMaxProbes: cfg.Breaker.HalfOpenMaxProbes,
	}, clk)
	executor := retry.NewExecutor(breakers, clk, logger)

	orch := orchestrator.New(executor, extract.Default(), store, store, clk, logger, orchestrator.Options{
		Destination: typemap.DestinationKind(cfg.Engine.Destination),
		Weights: metrics.Weights{
			Success:    cfg.Health.SuccessWeight,
			Throughput: cfg.Health.ThroughputWeight,
			Error:      cfg.Health.ErrorWeight,
		},
		TargetRowsPerSecond: cfg.Health.TargetRowsPerSecond,
	})

	// Run-trigger channel; prefetch=1 keeps at most one request buffered.
	runsChan := make(chan *domain.RunMessage, 1)

	// Initialize AMQP consumer
	consumer, err := amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, runsChan, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AMQP consumer", zap.Error(err))
	}
	defer consumer.Close()
	logger.Info("Connected to RabbitMQ")

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error("AMQP consumer error", zap.Error(err))
			cancel()
		}
	}()

	// Start Prometheus metrics server
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Engine.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics server listening", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Run loop
	go func() {
		for msg := range runsChan {
			handleRun(ctx, msg, orch, store, runLock, cfg.Engine.MaxWorkers, logger)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down engine...")
	case <-ctx.Done():
	}
	cancel()

	logger.Info("Engine stopped")
}

// handleRun executes one triggered run under the distributed run lock and
// acknowledges the message afterwards. Duplicate triggers for the same run
// ID are acknowledged without executing.
func handleRun(
	ctx context.Context,
	msg *domain.RunMessage,
	orch *orchestrator.Orchestrator,
	store *postgres.Store,
	runLock *redisrepo.RunLocker,
	defaultWorkers int,
	logger *zap.Logger,
) {
	runID := msg.Request.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	acquired, err := runLock.AcquireRunLock(ctx, runID.String())
	if err != nil {
		logger.Error("Run lock acquisition failed", zap.String("run_id", runID.String()), zap.Error(err))
		if err := msg.Nack(true); err != nil {
			logger.Warn("Nack failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
		return
	}
	if !acquired {
		logger.Warn("Run already in progress elsewhere, skipping",
			zap.String("run_id", runID.String()))
		if err := msg.Ack(); err != nil {
			logger.Warn("Ack failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
		return
	}
	defer func() {
		if err := runLock.ReleaseRunLock(ctx, runID.String()); err != nil {
			logger.Warn("Run lock release failed", zap.Error(err))
		}
	}()

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		logger.Error("Failed to load job definitions", zap.Error(err))
		if err := msg.Nack(true); err != nil {
			logger.Warn("Nack failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
		return
	}

	mode := orchestrator.Sequential()
	if msg.Request.Parallel {
		workers := msg.Request.MaxWorkers
		if workers < 1 {
			workers = defaultWorkers
		}
		mode = orchestrator.BoundedParallel(workers)
	}

	summary := orch.RunWithID(ctx, runID.String(), jobs, mode)

	if !summary.Healthy() {
		logger.Warn("Run finished unhealthy",
			zap.String("run_id", summary.RunID),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped_invalid", summary.SkippedInvalid),
			zap.Float64("health_score", summary.HealthScore),
		)
	}

	// The run reached a terminal summary; requeueing would re-execute it.
	// If the ack is lost the trigger is redelivered and the run lock is the
	// remaining guard against a duplicate run, so the failure must be visible.
	if err := msg.Ack(); err != nil {
		logger.Error("Ack failed, trigger may be redelivered",
			zap.String("run_id", summary.RunID), zap.Error(err))
	}
}
