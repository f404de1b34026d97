package cron

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Job is one task run on every cron cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order under unique names. The name is
// the metrics label, so it must be non-blank.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{}
	var errs error
	for _, job := range jobs {
		errs = errors.Join(errs, r.Register(job))
	}
	if errs != nil {
		return nil, errs
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("cron job name is required")
	case slices.ContainsFunc(r.jobs, func(j Job) bool { return j.Name() == name }):
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	return slices.Clone(r.jobs)
}
