package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/packfinderz-pools/api/controllers"
	poolcontrollers "github.com/angelmondragon/packfinderz-pools/api/controllers/pools"
	runcontrollers "github.com/angelmondragon/packfinderz-pools/api/controllers/runs"
	settlementcontrollers "github.com/angelmondragon/packfinderz-pools/api/controllers/settlement"
	"github.com/angelmondragon/packfinderz-pools/api/middleware"
	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/redis"
)

// RouterParams carries the services the API exposes. Redis is optional: without
// it idempotency keys and invite rate limits are not enforced.
type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      *redis.Client
	Pools      poolcontrollers.Service
	Runs       runcontrollers.Service
	Settlement settlementcontrollers.Service
	Metrics    *metrics.HTTPMetrics
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.Metrics),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	ready := map[string]controllers.Pinger{"db": p.DB}
	var idempotencyStore redis.IdempotencyStore
	var rateStore middleware.RateLimitStore
	if p.Redis != nil {
		ready["redis"] = p.Redis
		idempotencyStore = p.Redis
		rateStore = p.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, ready))
	})
	r.Handle("/metrics", promhttp.Handler())

	invitePolicy := middleware.NewRateLimitPolicy("pool_invite", cfg.HTTP.InviteWindow, cfg.HTTP.InviteLimit)
	splitMode := enums.SplitMode(cfg.Runs.DefaultSplitMode)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		retry := middleware.Idempotent(idempotencyStore, middleware.ReplayWindow, logg)
		final := middleware.Idempotent(idempotencyStore, middleware.TerminalReplayWindow, logg)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleShop))
			r.With(retry).Post("/pools", poolcontrollers.Create(p.Pools, logg))
			r.With(retry).Post("/pools/{poolId}/join", poolcontrollers.Join(p.Pools, logg))
			r.With(retry).Post("/pools/{poolId}/leave", poolcontrollers.Leave(p.Pools, logg))
			r.With(middleware.RateLimit(invitePolicy, rateStore, logg), retry).
				Post("/pools/{poolId}/invite", poolcontrollers.Invite(p.Pools, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleShop, enums.ActorRoleOperator))
			r.Get("/pools", poolcontrollers.List(p.Pools, logg))
			r.Get("/pools/{poolId}", poolcontrollers.Get(p.Pools, logg))
			r.Get("/pools/{poolId}/savings-preview", poolcontrollers.SavingsPreview(p.Pools, logg))
			r.Get("/pools/{poolId}/analytics", poolcontrollers.Analytics(p.Pools, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleOperator))
			r.Post("/pools/{poolId}/evaluate", poolcontrollers.Evaluate(p.Pools, logg))
			r.With(final).Post("/pools/{poolId}/confirm", poolcontrollers.Confirm(p.Pools, logg))
			r.With(final).Post("/pools/{poolId}/cancel", poolcontrollers.Cancel(p.Pools, logg))
			r.With(final).Post("/pools/{poolId}/complete", poolcontrollers.Complete(p.Pools, logg))

			r.With(retry).Post("/runs", runcontrollers.Create(p.Runs, splitMode, logg))
			r.With(retry).Post("/runs/{runId}/stops", runcontrollers.AddStop(p.Runs, logg))
			r.Delete("/runs/{runId}/stops/{stopId}", runcontrollers.RemoveStop(p.Runs, logg))
			r.Put("/runs/{runId}/stops/order", runcontrollers.ReorderStops(p.Runs, logg))
			r.Post("/runs/{runId}/driver", runcontrollers.AssignDriver(p.Runs, logg))
			r.With(final).Post("/runs/{runId}/start", runcontrollers.Start(p.Runs, logg))
			r.With(final).Post("/runs/{runId}/complete", runcontrollers.Complete(p.Runs, logg))
			r.With(final).Post("/runs/{runId}/cancel", runcontrollers.Cancel(p.Runs, logg))
			r.Get("/runs/{runId}/cost-breakdown", runcontrollers.CostBreakdown(p.Runs, logg))

			r.With(retry).Post("/settlements/dues", settlementcontrollers.RecordDue(p.Settlement, logg))
			r.With(final).Post("/settlements/payments", settlementcontrollers.RecordPayment(p.Settlement, logg))
			r.Get("/settlements/{kind}/{referenceId}", settlementcontrollers.Snapshot(p.Settlement, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleOperator, enums.ActorRoleDriver))
			r.Get("/runs/{runId}", runcontrollers.Get(p.Runs, logg))
			r.With(final).Post("/stops/{stopId}/delivery", runcontrollers.RecordDelivery(p.Runs, logg))
		})
	})

	return r
}
