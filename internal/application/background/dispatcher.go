// Package background runs fire-and-forget side effects (referral bonuses,
// onboarding rewards) detached from the request that triggered them.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/go-registration-api/internal/logging"
	"github.com/go-registration-api/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Task is the unit of work. Its error is logged and counted, never returned.
type Task func(ctx context.Context) error

// Dispatcher starts a named task without blocking the caller.
type Dispatcher interface {
	Go(ctx context.Context, name string, task Task)
}

// Pool runs tasks on goroutines, at most maxInflight at a time. Tasks inherit
// the caller's context values (logger) but not its cancellation.
type Pool struct {
	sem    *semaphore.Weighted
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewPool(maxInflight int64, logger *zap.Logger) *Pool {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &Pool{sem: semaphore.NewWeighted(maxInflight), logger: logger}
}

func (p *Pool) Go(ctx context.Context, name string, task Task) {
	detached := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(detached, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		run(detached, p.logger, name, task)
	}()
}

// Wait blocks until queued tasks finish or ctx expires. Used on shutdown.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inline runs tasks synchronously on the caller's goroutine.
type Inline struct {
	Logger *zap.Logger
}

func (d Inline) Go(ctx context.Context, name string, task Task) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	run(context.WithoutCancel(ctx), logger, name, task)
}

func run(ctx context.Context, fallback *zap.Logger, name string, task Task) {
	logger := logging.FromContextOr(ctx, fallback)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.Background(name, "panic")
			logger.Error("background task panicked", zap.String("task", name), zap.Any("panic", r))
		}
	}()
	if err := task(ctx); err != nil {
		metrics.Background(name, "error")
		logger.Error("background task failed", zap.String("task", name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	metrics.Background(name, "ok")
	logger.Debug("background task done", zap.String("task", name), zap.Duration("took", time.Since(start)))
}
