package cron

import (
	"context"
	"fmt"
	"time"
)

// Job is a task run by the cron worker. Name doubles as the metrics label,
// so it must be unique within a registry.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduled jobs run only on ticks where Due reports true. Jobs without it
// run on every tick.
type Scheduled interface {
	Due(now time.Time) bool
}

type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("nil cron job")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron job %T has no name", job)
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Due returns, in registration order, the jobs that should run at now.
func (r *Registry) Due(now time.Time) []Job {
	var due []Job
	for _, job := range r.jobs {
		if sched, ok := job.(Scheduled); ok && !sched.Due(now) {
			continue
		}
		due = append(due, job)
	}
	return due
}

func (r *Registry) Len() int { return len(r.jobs) }
