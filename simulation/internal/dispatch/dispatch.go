// Package dispatch decides where simulation tasks execute. The inline
// executor runs a task on the caller's goroutine; the pool executor runs it
// on one of a fixed number of slots.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("executor closed")

// Task is a unit of work. It must not panic; callers recover inside.
type Task func(ctx context.Context)

// Executor accepts tasks. Dispatch returns once the task is accepted; the
// returned channel is closed when the task has finished.
type Executor interface {
	Dispatch(ctx context.Context, task Task) (<-chan struct{}, error)
	Close(ctx context.Context) error
}

type Inline struct{}

func NewInline() *Inline { return &Inline{} }

func (Inline) Dispatch(ctx context.Context, task Task) (<-chan struct{}, error) {
	done := make(chan struct{})
	task(ctx)
	close(done)
	return done, nil
}

func (Inline) Close(context.Context) error { return nil }

// Pool runs at most size tasks at once. Dispatch never blocks: a task
// accepted while every slot is busy waits for one in its own goroutine.
type Pool struct {
	sem  *semaphore.Weighted
	size int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}, nil
}

func (p *Pool) Size() int { return int(p.size) }

func (p *Pool) Dispatch(ctx context.Context, task Task) (<-chan struct{}, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	done := make(chan struct{})
	// The task outlives the dispatching request, including its wait for a slot.
	taskCtx := context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		defer close(done)
		if err := p.sem.Acquire(taskCtx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		task(taskCtx)
	}()
	return done, nil
}

// Close stops accepting tasks and waits for accepted ones, queued or
// running, until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New returns the executor named by kind: "inline" or "pool".
func New(kind string, workers int) (Executor, error) {
	switch kind {
	case "", "inline":
		return NewInline(), nil
	case "pool":
		return NewPool(workers)
	default:
		return nil, fmt.Errorf("unknown executor %q", kind)
	}
}
