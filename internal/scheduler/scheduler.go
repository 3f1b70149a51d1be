// Package scheduler triggers full ingestion runs on a fixed cadence.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dealpool/ingest/internal/ingest"
	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/rs/zerolog"
)

// Runner executes ingestion runs.
type Runner interface {
	Run(ctx context.Context, req ingest.RunRequest) (*models.RunReport, error)
}

// Reporter emits finished run reports.
type Reporter interface {
	Emit(ctx context.Context, runReport *models.RunReport) error
}

// Scheduler runs all configured shops every interval. Runs execute one at a
// time; ticks that elapse while a run is in flight are dropped, never queued.
type Scheduler struct {
	runner   Runner
	reporter Reporter
	interval time.Duration
	logger   *zerolog.Logger

	wg sync.WaitGroup
}

// New returns new Scheduler.
func New(runner Runner, reporter Reporter, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		reporter: reporter,
		interval: interval,
		logger:   logger,
	}
}

// Start begins ticking in background until ctx is cancelled. The first run
// fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.trigger(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.trigger(ctx)
			}
		}
	}()
}

// Wait blocks until the scheduler goroutine has stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	runReport, err := s.runner.Run(ctx, ingest.RunRequest{})
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("can't run scheduled ingestion")
		return
	}

	if err := s.reporter.Emit(ctx, runReport); err != nil {
		s.logger.Error().
			Err(err).
			Str("runId", runReport.RunID).
			Msg("can't emit run report")
	}
}
