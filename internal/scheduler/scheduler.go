// Package scheduler runs the periodic timeout scan over in-progress workflow
// executions. Each sweep hands overdue steps back to the runtime, which
// re-validates deadlines under the document lock before acting.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/cascade/internal/executions"
	"github.com/JaimeStill/cascade/pkg/lifecycle"
)

// Runtime is the slice of the workflow runtime the scheduler drives.
type Runtime interface {
	ListInProgress(ctx context.Context) ([]executions.Execution, error)
	ApplyTimeout(ctx context.Context, e executions.Execution) error
}

// Scheduler periodically sweeps in-progress executions for elapsed step
// deadlines.
type Scheduler struct {
	runtime Runtime
	config  Config
	logger  *slog.Logger
}

// New creates a Scheduler over the given runtime.
func New(rt Runtime, config Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runtime: rt,
		config:  config,
		logger:  logger.With("system", "scheduler"),
	}
}

// Start launches the sweep loop once startup completes. The loop stops when
// the lifecycle context is canceled.
func (s *Scheduler) Start(lc *lifecycle.Coordinator) {
	if !s.config.IsEnabled() {
		s.logger.Info("timeout scanner disabled")
		return
	}

	lc.OnStartup(func() {
		s.logger.Info(
			"timeout scanner started",
			"interval", s.config.Interval,
			"concurrency", s.config.Concurrency,
		)
		go s.run(lc.Context())
	})
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.IntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout scanner stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep aborted", "error", err)
			}
		}
	}
}

// Sweep applies timeout actions across all in-progress executions, bounded
// by the configured concurrency. Per-execution failures are logged and do
// not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) error {
	execs, err := s.runtime.ListInProgress(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, e := range execs {
		g.Go(func() error {
			if err := s.runtime.ApplyTimeout(ctx, e); err != nil {
				s.logger.Error(
					"timeout action failed",
					"execution", e.ID,
					"document", e.DocumentID,
					"step", e.CurrentStep,
					"error", err,
				)
			}
			return nil
		})
	}

	return g.Wait()
}
