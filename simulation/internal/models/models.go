package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions may leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// SimulationConfig is the submission payload accepted from callers.
type SimulationConfig struct {
	N               int     `json:"N" yaml:"n"`
	Strictness      float64 `json:"strictness" yaml:"strictness"`
	Steps           int     `json:"steps" yaml:"steps"`
	InfraSpending   float64 `json:"infraSpending" yaml:"infra_spending"`
	Subsidy         float64 `json:"subsidy" yaml:"subsidy"`
	TrainingBudget  float64 `json:"trainingBudget" yaml:"training_budget"`
	JobCreationRate float64 `json:"jobCreationRate" yaml:"job_creation_rate"`
	Description     string  `json:"description,omitempty" yaml:"description"`
	Seed            int64   `json:"seed,omitempty" yaml:"seed"`
}

// DefaultSimulationConfig returns the values used for fields a caller omits.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		N:               100,
		Strictness:      0.5,
		Steps:           10,
		JobCreationRate: 0.05,
	}
}

// Validate rejects configurations that must never reach the model.
func (c SimulationConfig) Validate() error {
	if c.N < 0 {
		return fmt.Errorf("%w: N must be >= 0, got %d", ErrInvalidConfiguration, c.N)
	}
	if c.Steps < 0 {
		return fmt.Errorf("%w: steps must be >= 0, got %d", ErrInvalidConfiguration, c.Steps)
	}
	if math.IsNaN(c.Strictness) || c.Strictness < 0 || c.Strictness > 1 {
		return fmt.Errorf("%w: strictness must be within [0,1], got %v", ErrInvalidConfiguration, c.Strictness)
	}
	return validateAmounts(c.InfraSpending, c.Subsidy, c.TrainingBudget, c.JobCreationRate)
}

// MaxPolicyAmount bounds every spend and rate field. It keeps incomes,
// savings and their population means finite for any allowed population.
const MaxPolicyAmount = 1e12

func validateAmounts(infraSpending, subsidy, trainingBudget, jobCreationRate float64) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"infraSpending", infraSpending},
		{"subsidy", subsidy},
		{"trainingBudget", trainingBudget},
		{"jobCreationRate", jobCreationRate},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || f.value < 0 || f.value > MaxPolicyAmount {
			return fmt.Errorf("%w: %s must be within [0,%g], got %v", ErrInvalidConfiguration, f.name, MaxPolicyAmount, f.value)
		}
	}
	return nil
}

// Params is the fully resolved parameter set handed to the population model.
type Params struct {
	N               int     `json:"N"`
	Steps           int     `json:"steps"`
	Strictness      float64 `json:"strictness"`
	InfraSpending   float64 `json:"infraSpending"`
	Subsidy         float64 `json:"subsidy"`
	TrainingBudget  float64 `json:"trainingBudget"`
	JobCreationRate float64 `json:"jobCreationRate"`
	Seed            int64   `json:"seed"`
}

// Validate checks resolved parameters. Rule tables can move a field that
// passed SimulationConfig.Validate out of range, so resolution output is
// checked again before a model is built.
func (p Params) Validate() error {
	if p.N < 0 {
		return fmt.Errorf("%w: N must be >= 0, got %d", ErrInvalidConfiguration, p.N)
	}
	if p.Steps < 0 {
		return fmt.Errorf("%w: steps must be >= 0, got %d", ErrInvalidConfiguration, p.Steps)
	}
	if math.IsNaN(p.Strictness) || p.Strictness < 0 || p.Strictness > 1 {
		return fmt.Errorf("%w: strictness must be within [0,1], got %v", ErrInvalidConfiguration, p.Strictness)
	}
	return validateAmounts(p.InfraSpending, p.Subsidy, p.TrainingBudget, p.JobCreationRate)
}

// Metric names used as TimeSeries keys.
const (
	MetricAvgSatisfaction  = "avgSatisfaction"
	MetricComplianceRate   = "complianceRate"
	MetricUnemploymentRate = "unemploymentRate"
	MetricAvgIncome        = "avgIncome"
	MetricMigrationCount   = "migrationCount"
)

// MetricNames lists every TimeSeries key in a stable order.
var MetricNames = []string{
	MetricAvgSatisfaction,
	MetricComplianceRate,
	MetricUnemploymentRate,
	MetricAvgIncome,
	MetricMigrationCount,
}

// TimeSeries maps each metric name to its per-tick values, all of equal length.
type TimeSeries map[string][]float64

// Len returns the number of ticks recorded.
func (ts TimeSeries) Len() int {
	return len(ts[MetricAvgSatisfaction])
}

func (ts TimeSeries) Clone() TimeSeries {
	if ts == nil {
		return nil
	}
	out := make(TimeSeries, len(ts))
	for k, v := range ts {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// Job is one submission. SubmittedBy holds the token subject of the
// submitter and stays empty when submission is unauthenticated.
type Job struct {
	ID          uuid.UUID        `json:"jobId"`
	Status      JobStatus        `json:"status"`
	Config      SimulationConfig `json:"config"`
	SubmittedBy string           `json:"submittedBy,omitempty"`
	Params      *Params          `json:"params,omitempty"`
	Results     TimeSeries       `json:"results,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
