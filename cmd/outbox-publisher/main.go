package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-pools/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox/registry"
	"github.com/angelmondragon/packfinderz-pools/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

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
	cfg := rt.Config
	ctx = logg.WithFields(ctx, map[string]any{"env": rt.Env(), "serviceKind": serviceKind})

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(ctx, "event registry misconfigured", err)
		return 1
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect to pubsub", err)
		return 1
	}
	rt.Defer(pubsubClient.Close)

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(rt.DB.DB()),
		Registry:   events,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox publisher", err)
		return 1
	}

	logg.Info(ctx, "outbox publisher started")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return 1
	}
	logg.Info(ctx, "outbox publisher stopped")
	return 0
}
