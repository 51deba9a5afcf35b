// Package bootstrap wires the shared infrastructure every relay process needs.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"go-relay/internal/config"
	"go-relay/internal/core/postgres/repository"
	"go-relay/internal/infrastructure/logging"
	"go-relay/internal/infrastructure/metrics"
	redisinfra "go-relay/internal/infrastructure/redis"
	"go-relay/internal/journal"
	"go-relay/internal/retry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Deps holds the connections and stores shared by the binaries.
type Deps struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *gorm.DB
	Events   repository.EventRepository
	Sessions repository.SessionRepository
	Recorder *journal.Recorder

	Redis   *redis.Client
	Queue   *redisinfra.RedisQueue
	Bus     *redisinfra.RedisEventBus
	Gateway *redisinfra.Gateway
}

// Load reads the config and builds the process logger.
func Load(path, component string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.New(os.Stderr).With().Timestamp().Logger(), err
	}
	log := logging.Component(logging.New(cfg.Log), component)
	return cfg, log, nil
}

// Open connects the database and, when withRedis is set, Redis. The returned
// Deps must be closed.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, withRedis bool) (*Deps, error) {
	metrics.MustRegister()

	db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	d := &Deps{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Events:   repository.NewEventRepository(db),
		Sessions: repository.NewSessionRepository(db),
	}

	opts := []journal.Option{
		journal.WithRetention(cfg.Journal.Retention()),
		journal.WithRetryPolicy(RetryPolicy(cfg.Orchestrator.Retry, log)),
		journal.WithLogger(log),
	}

	if withRedis {
		client, err := redisinfra.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Redis = client
		d.Queue = redisinfra.NewRedisQueue(client, cfg.Redis.InvocationQueue)
		d.Bus = redisinfra.NewRedisEventBus(client, cfg.Redis.EventChannel, cfg.Redis.StopChannel, log)
		d.Gateway = redisinfra.NewGateway(d.Queue, d.Bus)
		opts = append(opts, journal.WithBus(d.Bus))
	}

	d.Recorder = journal.NewRecorder(d.Events, opts...)
	return d, nil
}

// RetryPolicy builds a policy that logs every retry at warn level.
func RetryPolicy(cfg config.RetryConfig, log zerolog.Logger) retry.Policy {
	p := retry.FromConfig(cfg)
	p.OnRetry = func(op string, err error, wait time.Duration) {
		log.Warn().Err(err).Str("op", op).Dur("wait", wait).Msg("retrying")
	}
	return p
}

func (d *Deps) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Log.Warn().Err(err).Msg("redis close failed")
		}
	}
	if d.DB != nil {
		if sqlDB, err := d.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
