package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-pools/internal/ledger"
	"github.com/angelmondragon/packfinderz-pools/internal/notifications"
	"github.com/angelmondragon/packfinderz-pools/internal/pools"
	"github.com/angelmondragon/packfinderz-pools/internal/runs"
	"github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/db"
	"github.com/angelmondragon/packfinderz-pools/pkg/locks"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/metrics"
	"github.com/angelmondragon/packfinderz-pools/pkg/outbox"
	"github.com/angelmondragon/packfinderz-pools/pkg/redis"
)

type Params struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	// Redis is required only when the lock backend is redis.
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// Engine is the set of services shared by the api and the cron worker.
type Engine struct {
	Locker     locks.Locker
	Outbox     *outbox.Service
	Sender     *notifications.Sender
	Settlement *settlement.Service
	Pools      *pools.Manager
	Runs       *runs.Consolidator
}

// New wires settlement, pools and runs over the database. The pool manager is
// registered as a settlement listener so paid dues mark participants paid.
func New(p Params) (*Engine, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil {
		return nil, fmt.Errorf("config, logger and db required")
	}
	cfg, logg := p.Config, p.Logger
	reg := p.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	locker, err := newLocker(cfg, logg, p.Redis)
	if err != nil {
		return nil, err
	}

	gormDB := p.DB.DB()
	engineMetrics := metrics.NewEngineMetrics(reg)
	events := outbox.NewService(outbox.NewRepository(gormDB), p.DB, logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gormDB))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	forwarder, err := settlement.NewForwarder(ledgerSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("settlement forwarder: %w", err)
	}
	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Store:     settlement.NewRepository(gormDB),
		Locker:    locker,
		Events:    events,
		Forwarder: forwarder,
		Logger:    logg,
		Metrics:   engineMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	sender, err := notifications.NewSender(events)
	if err != nil {
		return nil, fmt.Errorf("notification sender: %w", err)
	}

	manager, err := pools.NewManager(pools.ManagerParams{
		Store:           pools.NewRepository(gormDB),
		Locker:          locker,
		Events:          events,
		Settlement:      settlementSvc,
		Sender:          sender,
		Logger:          logg,
		Metrics:         engineMetrics,
		MinimumFraction: cfg.Pools.MinimumFractionDecimal(),
	})
	if err != nil {
		return nil, fmt.Errorf("pool manager: %w", err)
	}
	settlementSvc.AddListener(manager)

	consolidator, err := runs.NewConsolidator(runs.ConsolidatorParams{
		Store:      runs.NewRepository(gormDB),
		Locker:     locker,
		Pools:      manager,
		Settlement: settlementSvc,
		Events:     events,
		Logger:     logg,
		Metrics:    engineMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("run consolidator: %w", err)
	}

	return &Engine{
		Locker:     locker,
		Outbox:     events,
		Sender:     sender,
		Settlement: settlementSvc,
		Pools:      manager,
		Runs:       consolidator,
	}, nil
}

func newLocker(cfg *config.Config, logg *logger.Logger, client *redis.Client) (locks.Locker, error) {
	if !cfg.Locks.UsesRedis() {
		return locks.NewLocal(cfg.Locks.Wait), nil
	}
	if client == nil {
		return nil, fmt.Errorf("redis lock backend requires a redis connection")
	}
	locker, err := locks.NewRedis(client, logg, cfg.Locks.Wait, cfg.Locks.TTL)
	if err != nil {
		return nil, fmt.Errorf("redis locker: %w", err)
	}
	return locker, nil
}
