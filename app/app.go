// Package app wires the sandbox engine from configuration, both as an fx
// module for the long-running server and as plain constructors for the
// operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/sqlbox/config"
	"github.com/isdmx/sqlbox/grading"
	"github.com/isdmx/sqlbox/lock"
	"github.com/isdmx/sqlbox/logger"
	"github.com/isdmx/sqlbox/metastore"
	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/sandbox"
)

// Limiter entries idle for longer than this are dropped.
const (
	limiterPruneInterval = time.Minute
	limiterMaxIdle       = 10 * time.Minute
)

// Components holds everything needed to provision, execute and grade.
type Components struct {
	Config  *config.Config
	Pool    *sandbox.PgxPool
	Store   *metastore.Store
	Catalog *problem.MemoryCatalog
	Locker  sandbox.Locker
	Engine  *sandbox.Engine
	Grader  *grading.Grader

	redis *redis.Client
}

// Open builds the components described by cfg. The caller owns the result
// and must Close it.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	c.Catalog, err = problem.LoadFile(cfg.Problems.Path)
	if err != nil {
		return nil, err
	}
	log.Info("Problem set loaded",
		zap.String("path", cfg.Problems.Path),
		zap.Int("problems", c.Catalog.Len()))

	c.Store, err = metastore.Open(cfg.Metastore.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metastore: %w", err)
	}

	c.Pool, err = sandbox.NewPgxPool(ctx, log.Named("pgx"), cfg.PoolConfig())
	if err != nil {
		return nil, err
	}

	switch cfg.Lock.Backend {
	case "redis":
		c.redis, err = lock.NewRedisClient(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
		if err != nil {
			return nil, err
		}
		c.Locker = lock.NewRedis(c.redis, log.Named("lock"),
			lock.WithTTL(time.Duration(cfg.Lock.TTLSec)*time.Second))
	default:
		c.Locker = lock.Noop{}
	}

	engineCfg := cfg.EngineConfig()
	c.Engine = sandbox.NewEngine(log, &engineCfg, c.Pool, c.Store.Sandboxes(), c.Catalog, c.Locker, c.Store.Attempts())
	c.Grader = grading.NewGrader(c.Engine.Executor, c.Catalog, log.Named("grader"))

	return c, nil
}

// Close releases the pool, the metastore and the redis client.
func (c *Components) Close() error {
	var errs []error
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close metastore: %w", err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewComponents opens the components and ties their lifetime to lc.
func NewComponents(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*Components, error) {
	c, err := Open(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if c.Engine.Limiter != nil {
				c.Engine.Limiter.StartPruning(limiterPruneInterval, limiterMaxIdle, stop)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			close(stop)
			log.Info("Closing sandbox engine")
			return c.Close()
		},
	})
	return c, nil
}

// Module provides the configuration, the logger and the engine components.
var Module = fx.Module("sqlbox",
	fx.Provide(
		config.New,
		logger.NewFromConfig,
		NewComponents,
		func(c *Components) *sandbox.Provisioner { return c.Engine.Provisioner },
		func(c *Components) *sandbox.Executor { return c.Engine.Executor },
		func(c *Components) *grading.Grader { return c.Grader },
	),
)
