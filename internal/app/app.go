// Package app assembles the bot pipeline from configuration. The server, the worker and botctl all
// build the lifecycle manager through Open so they share one set of collaborators.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/notetaker/backend/config"
	"github.com/notetaker/backend/internal/bots"
	"github.com/notetaker/backend/internal/meetings"
	"github.com/notetaker/backend/internal/metrics"
	"github.com/notetaker/backend/internal/realtime"
	"github.com/notetaker/backend/internal/recall"
	"github.com/notetaker/backend/internal/settings"
	"github.com/notetaker/backend/pkg/database"
	"github.com/notetaker/backend/pkg/queue"
	"github.com/notetaker/backend/pkg/redis"
	"github.com/notetaker/backend/pkg/storage"
)

// Options controls what Open does beyond connecting.
type Options struct {
	// Migrate applies the embedded schema migrations after connecting.
	Migrate bool
}

// App holds the connected infrastructure and the lifecycle manager built on it.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Meetings *meetings.Repository
	Settings *settings.Repository
	Queue    *queue.Queue
	PubSub   *realtime.RedisPubSub
	Archive  *storage.S3 // nil when S3 is not configured
	Provider *recall.Client
	Manager  *bots.Manager
}

// Open connects to Postgres and Redis and wires the lifecycle manager.
func Open(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if opts.Migrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Redis:    rdb,
		Registry: reg,
		Metrics:  m,
		Meetings: meetings.NewRepository(pool),
		Settings: settings.NewRepository(pool, cfg.Scheduler.DefaultJoinMinutes),
		Queue:    queue.NewQueue(rdb.Client, logger),
		PubSub:   realtime.NewRedisPubSub(rdb.Client, logger),
	}

	if v := cfg.Recall.Validate(); !v.IsValid {
		logger.Warn("bot provider not configured", zap.String("message", v.Message))
	}
	a.Provider = recall.NewClient(recall.Options{
		BaseURL:  cfg.Recall.BaseURL,
		APIKey:   cfg.Recall.APIKey,
		BotName:  cfg.Recall.BotName,
		Language: cfg.Recall.Language,
		Metrics:  m,
	}, logger.Named("recall"))

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		TranscriptsBucket:    cfg.AWS.TranscriptsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	if s3Cfg.Enabled() {
		s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("transcript archive disabled", zap.Error(err))
		} else {
			a.Archive = s3Client
		}
	}

	mgr := bots.NewManager(a.Meetings, a.Provider, a.Settings, logger.Named("bots"))
	mgr.SetJobs(a.Queue)
	mgr.SetNotifier(realtime.NewNotifier(a.PubSub, logger))
	mgr.SetMetrics(m)
	if a.Archive != nil {
		mgr.SetArchiver(a.Archive)
	}
	a.Manager = mgr

	return a, nil
}

// SchedulerOptions derives scheduler settings from configuration.
func (a *App) SchedulerOptions() bots.SchedulerOptions {
	return bots.SchedulerOptions{
		Interval: a.Config.Scheduler.Interval(),
		Window:   a.Config.Scheduler.Window(),
		Metrics:  a.Metrics,
	}
}

// Check reports whether Postgres and Redis are reachable.
func (a *App) Check(ctx context.Context) error {
	if err := database.Check(ctx, a.Pool); err != nil {
		return err
	}
	return a.Redis.Check(ctx)
}

// Close releases the connections.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("redis close", zap.Error(err))
	}
	a.Pool.Close()
}

// NewLogger builds the production JSON logger with ISO8601 timestamps.
func NewLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
