package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/packfinderz-pools/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-pools/internal/cron"
	"github.com/angelmondragon/packfinderz-pools/internal/engine"
	"github.com/angelmondragon/packfinderz-pools/internal/notifications"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/idempotency"
	"github.com/angelmondragon/packfinderz-pools/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-pools/pkg/redis"
)

const (
	serviceKind  = "cron-worker"
	processedTTL = 7 * 24 * time.Hour
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx))
}

func run(ctx context.Context) int {
	rt, logg, err := bootstrap.Start(ctx, serviceKind)
	if err != nil {
		logg.Error(ctx, "bootstrap failed", err)
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logg.Error(context.Background(), "shutdown cleanup failed", err)
		}
	}()
	cfg, dbClient, redisClient := rt.Config, rt.DB, rt.Redis
	ctx = logg.WithFields(ctx, map[string]any{"env": rt.Env(), "serviceKind": serviceKind})

	services, err := engine.New(engine.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		return 1
	}

	deadlineJob, err := cron.NewPoolDeadlineJob(cron.PoolDeadlineJobParams{
		Logger:    logg,
		Pools:     services.Pools,
		BatchSize: cfg.Pools.EvaluationBatchSize,
		Workers:   cfg.Pools.EvaluationWorkers,
	})
	if err != nil {
		logg.Error(ctx, "failed to create pool deadline job", err)
		return 1
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:         logg,
		DB:             dbClient,
		Repository:     outbox.NewRepository(dbClient.DB()),
		Retention:      cfg.Outbox.Retention,
		ParkedAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox retention job", err)
		return 1
	}
	registry, err := cron.NewRegistry(deadlineJob, retentionJob)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		return 1
	}

	var lock cron.Lock = &cron.LocalLock{}
	if redisClient != nil {
		lock, err = cron.NewRedisLock(redisClient, redis.Key("lock", serviceKind, rt.Env()), cfg.Cron.LockTTL)
		if err != nil {
			logg.Error(ctx, "failed to create cron lock", err)
			return 1
		}
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		return 1
	}

	consumer, err := newNotificationConsumer(ctx, rt, services)
	if err != nil {
		logg.Error(ctx, "failed to create notification consumer", err)
		return 1
	}

	logg.Info(ctx, "cron worker started")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	if consumer != nil {
		group.Go(func() error { return consumer.Run(groupCtx) })
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return 1
	}
	logg.Info(ctx, "cron worker stopped")
	return 0
}

// newNotificationConsumer returns nil when no pool events subscription is
// configured. Redeliveries are deduped in redis, so the consumer needs it.
func newNotificationConsumer(ctx context.Context, rt *bootstrap.Runtime, services *engine.Engine) (*notifications.Consumer, error) {
	cfg := rt.Config
	if strings.TrimSpace(cfg.PubSub.PoolEventsSubscription) == "" {
		return nil, nil
	}
	if rt.Redis == nil {
		return nil, errors.New("pool events subscription requires redis")
	}

	processed, err := idempotency.NewManager(rt.Redis, processedTTL)
	if err != nil {
		return nil, err
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, rt.Logger)
	if err != nil {
		return nil, err
	}
	rt.Defer(pubsubClient.Close)
	return notifications.NewConsumer(services.Pools, services.Sender, pubsubClient.PoolEventsSubscription(), processed, rt.Logger)
}
