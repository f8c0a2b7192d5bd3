package storage

import (
	"context"
	"errors"
)

var errDispatchBackpressure = errors.New("storage dispatch queue is full")

// dispatcher is the blocking-task boundary: repository methods submit SQL
// closures here and await the result, keeping callers' goroutines free of
// unbounded blocking work.
type dispatcher struct {
	jobs chan dispatchJob
	stop chan struct{}
}

type dispatchJob struct {
	ctx context.Context
	fn  func(context.Context) (any, error)
	ret chan<- dispatchResult
}

type dispatchResult struct {
	val any
	err error
}

func newDispatcher(size, queue int) *dispatcher {
	if size <= 0 {
		size = 4
	}
	if queue <= 0 {
		queue = 128
	}

	d := &dispatcher{
		jobs: make(chan dispatchJob, queue),
		stop: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go d.worker()
	}
	return d
}

func (d *dispatcher) worker() {
	for {
		select {
		case j := <-d.jobs:
			val, err := j.fn(j.ctx)
			j.ret <- dispatchResult{val, err}
		case <-d.stop:
			return
		}
	}
}

func (d *dispatcher) shutdown() {
	close(d.stop)
}

func (d *dispatcher) submit(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	ret := make(chan dispatchResult, 1)
	select {
	case d.jobs <- dispatchJob{ctx, fn, ret}:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ret:
			return res.val, res.err
		}
	default:
		return nil, errDispatchBackpressure
	}
}

// dispatch runs fn on the blocking pool, mapping dispatch-level failures to
// Internal domain errors.
func dispatch[T any](ctx context.Context, d *dispatcher, op string, fn func(context.Context) (T, error)) (T, error) {
	val, err := d.submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		if errors.Is(err, errDispatchBackpressure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, internal(op, err)
		}
		return zero, mapError(op, err)
	}
	return val.(T), nil
}
