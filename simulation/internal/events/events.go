// Package events publishes simulation job lifecycle transitions.
package events

import (
	"context"
	"time"

	"github.com/civictwin/Main/simulation/internal/models"
)

// JobEvent is emitted each time a job changes status.
type JobEvent struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
	Ticks  int              `json:"ticks,omitempty"`
	At     time.Time        `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, JobEvent) error { return nil }
func (Nop) Close() error                            { return nil }
