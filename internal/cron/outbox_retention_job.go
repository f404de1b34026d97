package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	// Matches the publisher's default max attempts, the count at which it
	// parks a row after dead-lettering it.
	defaultParkedAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	Retention  time.Duration
	// ParkedAttempts is the publisher's max attempts. Unpublished rows at or
	// above it are dead-lettered and are pruned like published ones.
	ParkedAttempts int
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxPruner
	retention time.Duration
	parked    int
	now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: params.Retention,
		parked:    params.ParkedAttempts,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.parked <= 0 {
		job.parked = defaultParkedAttempts
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var pruned int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		pruned, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.parked)
		return err
	})
	if err != nil {
		return fmt.Errorf("prune outbox before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if pruned > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":      cutoff,
			"rows_pruned": pruned,
		}), "cron.outbox_retention.pruned")
	}
	return nil
}
