package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-pools/api/routes"
	"github.com/angelmondragon/packfinderz-pools/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-pools/internal/engine"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
)

const serviceKind = "api"

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

	services, err := engine.New(engine.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         rt.DB,
		Redis:      rt.Redis,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		return 1
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:     cfg,
			Logger:     logg,
			DB:         rt.DB,
			Redis:      rt.Redis,
			Pools:      services.Pools,
			Runs:       services.Runs,
			Settlement: services.Settlement,
			Metrics:    metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": rt.Env(), "addr": server.Addr})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logg.Info(ctx, "api listening")

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			return 1
		}
	}
	logg.Info(ctx, "api stopped")
	return 0
}
