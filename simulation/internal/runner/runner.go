package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/civictwin/Main/simulation/internal/civic"
	"github.com/civictwin/Main/simulation/internal/models"
)

var ErrSimulationFailure = errors.New("simulation failure")

type Config struct {
	// MaxPopulation and MaxSteps bound a single run. Zero means unbounded.
	MaxPopulation int
	MaxSteps      int
	Logger        *slog.Logger
}

type Runner struct {
	maxPopulation int
	maxSteps      int
	logger        *slog.Logger
}

func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		maxPopulation: cfg.MaxPopulation,
		maxSteps:      cfg.MaxSteps,
		logger:        logger,
	}
}

// NewSource returns the random source a run with the given seed uses.
func NewSource(seed int64) *rand.Rand {
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s^0x5851f42d4c957f2d))
}

// Validate checks resolved parameters before any model is constructed.
func (r *Runner) Validate(p models.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if r.maxPopulation > 0 && p.N > r.maxPopulation {
		return fmt.Errorf("%w: N exceeds limit %d", models.ErrInvalidConfiguration, r.maxPopulation)
	}
	if r.maxSteps > 0 && p.Steps > r.maxSteps {
		return fmt.Errorf("%w: steps exceeds limit %d", models.ErrInvalidConfiguration, r.maxSteps)
	}
	return nil
}

// Run builds a population from p, steps it p.Steps times and returns one
// snapshot per tick. Faults raised while stepping are returned wrapped in
// ErrSimulationFailure.
func (r *Runner) Run(ctx context.Context, p models.Params) (ts models.TimeSeries, err error) {
	if err := r.Validate(p); err != nil {
		return nil, err
	}
	return r.run(ctx, p, NewSource(p.Seed))
}

func (r *Runner) run(ctx context.Context, p models.Params, rng civic.Random) (ts models.TimeSeries, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ts = nil
			err = fmt.Errorf("%w: %v", ErrSimulationFailure, rec)
		}
	}()

	collector := civic.NewCollector(p.Steps)
	model, err := civic.NewModel(p.N, civic.Policy{
		Strictness:      p.Strictness,
		InfraSpending:   p.InfraSpending,
		Subsidy:         p.Subsidy,
		TrainingBudget:  p.TrainingBudget,
		JobCreationRate: p.JobCreationRate,
	}, rng, collector)
	if err != nil {
		return nil, err
	}

	for i := 0; i < p.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: stopped at tick %d: %v", ErrSimulationFailure, i, err)
		}
		model.Step()
	}
	r.logger.Debug("simulation finished",
		"population", p.N,
		"steps", p.Steps,
		"migrated", model.MigratedCount(),
	)
	return collector.Series(), nil
}
