// Package tasks runs work that is scheduled after an HTTP response has
// been written but must still run to completion. The supervisor detaches
// each task from the request's cancellation and holds the process open
// until every task has finished.
package tasks

import (
	"context"
	"sync"

	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Supervisor owns detached background tasks. The zero value is not
// usable; create one with New.
type Supervisor struct {
	wg sync.WaitGroup
}

// New creates a new Supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Dispatch schedules fn on a detached goroutine. The task inherits the
// request context's values (logger included) but not its cancellation,
// so it survives the client connection. A panic or returned error is
// logged and isolated; it never reaches the caller.
func (s *Supervisor) Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.From(detached).Error("background task panicked", "task", name, "recover", r)
			}
		}()

		if err := fn(detached); err != nil {
			logging.From(detached).Error("background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all dispatched tasks finish or ctx is done. It
// returns ctx.Err when the deadline wins.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
