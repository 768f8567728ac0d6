package worker

import (
	"context"
	"sync"

	"github.com/baharkarakas/balance-ledger/internal/metrics"
)

type task func()

type Pool struct {
	wg   sync.WaitGroup
	jobs chan task
}

func NewPool(n int) *Pool {
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < max(n, 1); i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				metrics.WorkerQueueDepth.Dec()
				job()
			}
		}()
	}
	return p
}

func (p *Pool) Submit(f task) {
	metrics.WorkerQueueDepth.Inc()
	p.jobs <- f
}

// Do runs fn on a worker and waits for its result. If ctx ends first the
// job still runs to completion and ctx.Err() is returned.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	metrics.WorkerQueueDepth.Inc()
	select {
	case p.jobs <- func() { done <- fn(ctx) }:
	case <-ctx.Done():
		metrics.WorkerQueueDepth.Dec()
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Stop() { close(p.jobs); p.wg.Wait() }
