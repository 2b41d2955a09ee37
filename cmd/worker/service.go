package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/courier-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Logger *logger.Logger
	// Dependencies must all answer a ping before any task starts.
	Dependencies map[string]pinger
	// Tasks run side by side; the first one to fail stops the rest.
	Tasks map[string]runner
}

type Service struct {
	logg  *logger.Logger
	deps  map[string]pinger
	tasks map[string]runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Tasks) == 0 {
		return nil, errors.New("at least one task is required")
	}
	for name, task := range params.Tasks {
		if task == nil {
			return nil, fmt.Errorf("task %q is nil", name)
		}
	}
	return &Service{logg: params.Logger, deps: params.Dependencies, tasks: params.Tasks}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.pingAll(ctx); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range sortedKeys(s.tasks) {
		task := s.tasks[name]
		group.Go(func() error {
			err := task.Run(s.logg.WithField(groupCtx, "task", name))
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.logg.Error(ctx, "worker task stopped unexpectedly", err)
		return err
	}
	return ctx.Err()
}

// pingAll checks every dependency and reports all failures together.
func (s *Service) pingAll(ctx context.Context) error {
	var errs error
	for _, name := range sortedKeys(s.deps) {
		if err := s.deps[name].Ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", name), "worker dependency unavailable", err)
			errs = multierr.Append(errs, fmt.Errorf("%s ping failed: %w", name, err))
		}
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
