package workerpool

import (
	"context"
	"runtime"

	"PPost/logger"
	"PPost/tools/errs"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultThreshold = 64

type Options struct {
	Size      int // max concurrent jobs; <=0 => runtime.NumCPU()
	Threshold int // candidate sets at or below this run inline; <=0 => 64
	Log       *zap.Logger
}

func (o *Options) norm() {
	if o.Size <= 0 {
		o.Size = runtime.NumCPU()
	}
	if o.Threshold <= 0 {
		o.Threshold = defaultThreshold
	}
	o.Log = logger.OrNamed(o.Log, "pool")
}

// Pool bounds CPU-bound work so it never runs on the caller's goroutine for
// large inputs. At most Size jobs execute at once.
type Pool struct {
	sem       *semaphore.Weighted
	size      int
	threshold int
	log       *zap.Logger
}

func New(opts Options) *Pool {
	opts.norm()
	return &Pool{
		sem:       semaphore.NewWeighted(int64(opts.Size)),
		size:      opts.Size,
		threshold: opts.Threshold,
		log:       opts.Log,
	}
}

func (p *Pool) Size() int { return p.size }

// Inline reports whether a candidate set of n items is small enough to
// compute on the caller's goroutine.
func (p *Pool) Inline(n int) bool { return n <= p.threshold }

type result[T any] struct {
	val T
	err error
}

// Submit runs fn on a pool worker and waits for its result. A panic inside fn
// comes back as errs.ErrWorkerPool. If ctx ends first the caller returns
// ctx.Err() and the job finishes in the background, still holding its slot.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("[pool] worker crashed", zap.Any("panic", r))
				done <- result[T]{err: errs.Recovered(errs.ErrWorkerPool, r)}
			}
		}()
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
