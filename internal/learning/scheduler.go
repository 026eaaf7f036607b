package learning

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrRunInProgress is returned by Trigger while another pass is running.
var ErrRunInProgress = errors.New("learning run already in progress")

type passRunner interface {
	RunOnce(ctx context.Context) (*Report, error)
}

// Scheduler runs the loop at a fixed interval. Manual triggers share the
// same in-flight guard, so two passes never overlap.
type Scheduler struct {
	loop     passRunner
	interval time.Duration
	running  atomic.Bool
	last     atomic.Pointer[Report]
	logger   zerolog.Logger
}

func NewScheduler(loop *Loop, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return newScheduler(loop, interval, logger)
}

func newScheduler(loop passRunner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		loop:     loop,
		interval: interval,
		logger:   logger.With().Str("component", "learning_scheduler").Logger(),
	}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.interval).Msg("learning scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("learning scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.Trigger(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		s.logger.Debug().Msg("previous learning pass still running, tick skipped")
	case errors.Is(err, ErrInsufficientTrainingData):
		s.logger.Warn().Err(err).Msg("retrain declined")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error().Err(err).Msg("learning pass failed")
	}
}

// Trigger runs one pass now unless one is already in flight.
func (s *Scheduler) Trigger(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	rep, err := s.loop.RunOnce(ctx)
	if rep != nil {
		s.last.Store(rep)
	}
	return rep, err
}

// Last returns the most recent report, or nil before the first pass.
func (s *Scheduler) Last() *Report { return s.last.Load() }
