// Package workerpool runs background jobs (retraining, doctor reports) off
// the request-serving goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when work is submitted after Release.
var ErrClosed = errors.New("worker pool closed")

type Config struct {
	Capacity       int
	ExpiryDuration time.Duration
	// Nonblocking makes Submit fail instead of waiting when every worker is busy.
	Nonblocking      bool
	MaxBlockingTasks int
}

func DefaultConfig() Config {
	return Config{
		Capacity:         4,
		ExpiryDuration:   60 * time.Second,
		Nonblocking:      false,
		MaxBlockingTasks: 64,
	}
}

type Pool struct {
	pool   *ants.Pool
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) (*Pool, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	logger = logger.With().Str("component", "workerpool").Logger()

	p, err := ants.NewPool(cfg.Capacity,
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithNonblocking(cfg.Nonblocking),
		ants.WithMaxBlockingTasks(cfg.MaxBlockingTasks),
		ants.WithPanicHandler(func(v interface{}) {
			logger.Error().Interface("panic", v).Msg("background task panicked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create ants pool: %w", err)
	}
	return &Pool{pool: p, logger: logger}, nil
}

// Submit queues fn and returns immediately.
func (p *Pool) Submit(fn func()) error {
	if err := p.pool.Submit(fn); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrClosed
		}
		return fmt.Errorf("submit task: %w", err)
	}
	return nil
}

// SubmitWait runs fn on a worker and blocks until it returns or ctx ends.
// A task abandoned through ctx keeps running to completion on its worker.
func (p *Pool) SubmitWait(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := p.Submit(func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Running() int { return p.pool.Running() }

// Release waits up to timeout for running tasks, then closes the pool.
func (p *Pool) Release(timeout time.Duration) {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.logger.Warn().Err(err).Msg("worker pool release timed out")
	}
}
