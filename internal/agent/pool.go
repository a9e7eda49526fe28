package agent

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize bounds how many response-generation calls may run at
// once across all agents.
const DefaultPoolSize = 8

// Pool serializes access to the blocking response-generation capability.
// Every Respondent call an Async agent makes goes through a shared Pool
// so one slow agent cannot stall the rest of the process.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool admitting at most size concurrent calls
// (DefaultPoolSize when size <= 0).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Run executes fn on its own goroutine and waits for it or for the
// context. Cancellation is cooperative: the token is checked before the
// blocking call starts, and a call already in flight is abandoned (its
// result discarded) rather than completed on the caller's behalf. fn is
// responsible for releasing any resources it acquired.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		p.sem.Release(1)
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
