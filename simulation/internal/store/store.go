package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/civictwin/Main/simulation/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrFull              = errors.New("job store full")
)

type Store interface {
	CreateJob(ctx context.Context, in JobInput) (models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (models.Job, error)
	ListJobs(ctx context.Context, filter ListJobsFilter) ([]models.Job, error)
	UpdateJobStatus(ctx context.Context, in JobStatusUpdate) (models.Job, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type JobInput struct {
	ID          uuid.UUID
	Config      models.SimulationConfig
	SubmittedBy string
}

// JobStatusUpdate moves a job along its lifecycle. Params is recorded when
// set; Results only with StatusCompleted and Error only with StatusFailed.
type JobStatusUpdate struct {
	ID      uuid.UUID
	Status  models.JobStatus
	Params  *models.Params
	Results models.TimeSeries
	Error   string
}

type ListJobsFilter struct {
	Status models.JobStatus
	Limit  int
	Offset int
}
