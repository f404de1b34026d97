package cron

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/packfinderz-pools/internal/pools"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

const (
	defaultDeadlineBatch   = 200
	defaultDeadlineWorkers = 8
)

type deadlineEvaluator interface {
	ListDueForEvaluation(ctx context.Context, limit int) ([]uuid.UUID, error)
	EvaluateDeadline(ctx context.Context, poolID uuid.UUID) (*pools.EvaluationResult, error)
}

type PoolDeadlineJobParams struct {
	Logger    *logger.Logger
	Pools     deadlineEvaluator
	BatchSize int
	Workers   int
}

// NewPoolDeadlineJob evaluates every open pool whose deadline has passed. Each
// evaluation takes that pool's lock, so the job fans out across pools.
func NewPoolDeadlineJob(params PoolDeadlineJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pools == nil {
		return nil, fmt.Errorf("pool manager required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultDeadlineBatch
	}
	workers := params.Workers
	if workers <= 0 {
		workers = defaultDeadlineWorkers
	}
	return &poolDeadlineJob{
		logg:    params.Logger,
		pools:   params.Pools,
		batch:   batch,
		workers: workers,
	}, nil
}

type poolDeadlineJob struct {
	logg    *logger.Logger
	pools   deadlineEvaluator
	batch   int
	workers int
}

func (j *poolDeadlineJob) Name() string { return "pool-deadline" }

// Run evaluates one batch. A pool that is busy is left for the next cycle; any
// other failure is collected and returned after the whole batch ran.
func (j *poolDeadlineJob) Run(ctx context.Context) error {
	ids, err := j.pools.ListDueForEvaluation(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list due pools: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		errs      error
		pending   int
		cancelled int
		busy      int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(j.workers)
	for _, id := range ids {
		poolID := id
		group.Go(func() error {
			result, err := j.pools.EvaluateDeadline(groupCtx, poolID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case pkgerrors.HasReason(err, pkgerrors.ReasonConflict):
				busy++
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("pool %s: %w", poolID, err))
			case result.Changed && result.Pool.Status == enums.PoolStatusPending:
				pending++
			case result.Changed:
				cancelled++
			}
			return nil
		})
	}
	_ = group.Wait()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":       len(ids),
		"pending":   pending,
		"cancelled": cancelled,
		"busy":      busy,
		"failed":    len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "cron.pool_deadline.batch_evaluated")
	return errs
}
