// Package bootstrap brings up the dependencies every binary shares.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/db"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/migrate"
	"github.com/angelmondragon/packfinderz-pools/pkg/redis"
)

// Runtime is a started process. Redis is nil when it is not configured.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []func() error
}

// Start loads .env and config, then opens the database (running dev
// migrations when enabled) and redis. On error everything opened so far is
// closed again. The returned logger is usable even when err is non-nil.
func Start(ctx context.Context, kind string) (*Runtime, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind
	logg = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	rt := &Runtime{Config: cfg, Logger: logg}
	if err := rt.open(ctx); err != nil {
		return nil, logg, multierr.Append(err, rt.Close())
	}
	return rt, logg, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	dbClient, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	rt.DB = dbClient
	rt.closers = append(rt.closers, dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	if !rt.Config.Redis.Enabled() {
		rt.Logger.Warn(ctx, "redis not configured; idempotency keys, invite limits and the cron lease are local only")
		return nil
	}
	redisClient, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	rt.Redis = redisClient
	rt.closers = append(rt.closers, redisClient.Close)
	return nil
}

// Defer registers fn to run on Close, before the shared connections shut.
func (rt *Runtime) Defer(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}

// Env returns the deployment environment with a local fallback.
func (rt *Runtime) Env() string {
	if rt.Config.App.Env == "" {
		return "local"
	}
	return rt.Config.App.Env
}
