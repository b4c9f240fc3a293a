package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/civictwin/Main/simulation/internal/dispatch"
	"github.com/civictwin/Main/simulation/internal/events"
	"github.com/civictwin/Main/simulation/internal/logging"
	"github.com/civictwin/Main/simulation/internal/models"
	"github.com/civictwin/Main/simulation/internal/policy"
	"github.com/civictwin/Main/simulation/internal/runner"
	"github.com/civictwin/Main/simulation/internal/store"
)

const publishTimeout = 5 * time.Second

// Simulator validates resolved parameters and runs them to completion.
// *runner.Runner is the production implementation.
type Simulator interface {
	Validate(p models.Params) error
	Run(ctx context.Context, p models.Params) (models.TimeSeries, error)
}

type Options struct {
	Executor  dispatch.Executor
	Publisher events.Publisher
	Logger    *slog.Logger
	// Seed picks a seed for submissions that do not carry one.
	Seed func() int64
}

type Service struct {
	store     store.Store
	resolver  *policy.Resolver
	runner    Simulator
	executor  dispatch.Executor
	publisher events.Publisher
	logger    *slog.Logger
	seed      func() int64
}

func New(st store.Store, resolver *policy.Resolver, rn Simulator, opts Options) *Service {
	s := &Service{
		store:     st,
		resolver:  resolver,
		runner:    rn,
		executor:  opts.Executor,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		seed:      opts.Seed,
	}
	if s.executor == nil {
		s.executor = dispatch.NewInline()
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.seed == nil {
		s.seed = func() int64 { return time.Now().UnixNano() }
	}
	return s
}

// Submit runs a simulation and returns the job once it has reached a
// terminal status. Invalid configurations are rejected before a job exists.
func (s *Service) Submit(ctx context.Context, cfg models.SimulationConfig) (models.Job, error) {
	job, done, err := s.enqueue(ctx, cfg)
	if err != nil {
		return models.Job{}, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		// The job keeps running; the caller polls for its outcome.
	}
	return s.store.GetJob(context.WithoutCancel(ctx), job.ID)
}

// SubmitAsync accepts a simulation and returns without waiting for it.
func (s *Service) SubmitAsync(ctx context.Context, cfg models.SimulationConfig) (models.Job, error) {
	job, _, err := s.enqueue(ctx, cfg)
	if err != nil {
		return models.Job{}, err
	}
	return job, nil
}

// GetResult returns the stored job, or store.ErrNotFound.
func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (models.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, filter store.ListJobsFilter) ([]models.Job, error) {
	return s.store.ListJobs(ctx, filter)
}

// Resolve exposes the parameters a configuration would run with.
func (s *Service) Resolve(cfg models.SimulationConfig) (models.Params, error) {
	if err := cfg.Validate(); err != nil {
		return models.Params{}, err
	}
	params := s.resolver.Resolve(cfg)
	if err := s.runner.Validate(params); err != nil {
		return models.Params{}, err
	}
	return params, nil
}

type submitterKey struct{}

// WithSubmitter records who is submitting; jobs created under the returned
// context carry it as SubmittedBy.
func WithSubmitter(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, submitterKey{}, subject)
}

func SubmitterFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(submitterKey{}).(string)
	return subject
}

// loggerFor prefers a request-scoped logger carried by ctx.
func (s *Service) loggerFor(ctx context.Context) *slog.Logger {
	if l, ok := logging.Lookup(ctx); ok {
		return l
	}
	return s.logger
}

func (s *Service) enqueue(ctx context.Context, cfg models.SimulationConfig) (models.Job, <-chan struct{}, error) {
	if cfg.Seed == 0 {
		cfg.Seed = s.seed()
	}
	params, err := s.Resolve(cfg)
	if err != nil {
		return models.Job{}, nil, err
	}

	job, err := s.store.CreateJob(ctx, store.JobInput{
		ID:          uuid.New(),
		Config:      cfg,
		SubmittedBy: SubmitterFromContext(ctx),
	})
	if err != nil {
		return models.Job{}, nil, fmt.Errorf("create job: %w", err)
	}
	logger := s.loggerFor(ctx).With("job_id", job.ID.String())
	logger.Info("simulation queued", "population", params.N, "steps", params.Steps, "seed", params.Seed)
	s.publish(ctx, job, 0)

	runCtx := context.WithoutCancel(ctx)
	done, err := s.executor.Dispatch(ctx, func(taskCtx context.Context) {
		s.execute(taskCtx, logger, job.ID, params)
	})
	if err != nil {
		logger.Error("dispatch failed", "error", err)
		s.fail(runCtx, logger, job.ID, &params, fmt.Errorf("dispatch: %w", err), true)
		closed := make(chan struct{})
		close(closed)
		done = closed
	}
	return job, done, nil
}

func (s *Service) execute(ctx context.Context, logger *slog.Logger, id uuid.UUID, params models.Params) {
	marked := false
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: %v", runner.ErrSimulationFailure, rec)
			logger.Error("simulation panicked", "error", err)
			s.fail(ctx, logger, id, &params, err, !marked)
		}
	}()

	running, err := s.store.UpdateJobStatus(ctx, store.JobStatusUpdate{
		ID:     id,
		Status: models.StatusRunning,
		Params: &params,
	})
	if err != nil {
		logger.Error("mark running", "error", err)
		return
	}
	marked = true
	s.publish(ctx, running, 0)
	logger.Debug("simulation running")

	started := time.Now()
	results, err := s.runner.Run(context.WithoutCancel(ctx), params)
	if err != nil {
		s.fail(ctx, logger, id, nil, err, false)
		return
	}
	completed, err := s.store.UpdateJobStatus(ctx, store.JobStatusUpdate{
		ID:      id,
		Status:  models.StatusCompleted,
		Results: results,
	})
	if err != nil {
		logger.Error("mark completed", "error", err)
		return
	}
	s.publish(ctx, completed, results.Len())
	logger.Info("simulation completed", "ticks", results.Len(), "elapsed", time.Since(started))
}

// fail records err on the job. When fromQueued is set the job is first
// moved to running so the lifecycle stays queued -> running -> failed.
func (s *Service) fail(ctx context.Context, logger *slog.Logger, id uuid.UUID, params *models.Params, cause error, fromQueued bool) {
	if fromQueued {
		if _, err := s.store.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: id, Status: models.StatusRunning, Params: params}); err != nil {
			logger.Error("mark running", "error", err)
			return
		}
	}
	failed, err := s.store.UpdateJobStatus(ctx, store.JobStatusUpdate{
		ID:     id,
		Status: models.StatusFailed,
		Error:  cause.Error(),
	})
	if err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			logger.Error("mark failed", "error", err)
		}
		return
	}
	s.publish(ctx, failed, 0)
	logger.Error("simulation failed", "error", cause)
}

func (s *Service) publish(ctx context.Context, job models.Job, ticks int) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	ev := events.JobEvent{
		JobID:  job.ID.String(),
		Status: job.Status,
		Error:  job.Error,
		Ticks:  ticks,
		At:     job.UpdatedAt,
	}
	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		s.logger.Warn("publish job event", "job_id", ev.JobID, "status", ev.Status, "error", err)
	}
}

// Close drains the executor and the event publisher.
func (s *Service) Close(ctx context.Context) error {
	return errors.Join(s.executor.Close(ctx), s.publisher.Close())
}
