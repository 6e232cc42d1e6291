package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/whispr-dev/sdr/internal/sdr"
)

// ChannelPlan is an ordered list of center frequencies with a per-frequency
// dwell, a post-tune settle delay, and an optional pass count. A nil Passes
// means run until externally cancelled.
type ChannelPlan struct {
	Channels []float64
	Dwell    time.Duration
	Settle   time.Duration
	Passes   *int
}

// Validate rejects an invalid plan before anything is tuned.
func (p *ChannelPlan) Validate() error {
	switch {
	case len(p.Channels) == 0:
		return errors.New("channel list is empty")
	case p.Dwell <= 0:
		return fmt.Errorf("invalid dwell: %s", p.Dwell)
	case p.Settle < 0:
		return fmt.Errorf("invalid settle delay: %s", p.Settle)
	case p.Passes != nil && *p.Passes <= 0:
		return fmt.Errorf("invalid pass count: %d", *p.Passes)
	}
	for _, freq := range p.Channels {
		if freq <= 0 {
			return fmt.Errorf("invalid channel frequency: %f", freq)
		}
	}
	return nil
}

// WithSchedulerLogger sets the logger for the scheduler.
func WithSchedulerLogger(logger *slog.Logger) func(*Scheduler) {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler iterates the channel plan on a single receiver: retune, settle,
// then hand the dwell to the engine. It is strictly sequential; there is one
// physical front end and one active channel at a time.
type Scheduler struct {
	plan   ChannelPlan
	engine *Engine
	src    sdr.Source
	logger *slog.Logger
}

// NewScheduler validates the plan and creates a scheduler.
func NewScheduler(plan ChannelPlan, engine *Engine, src sdr.Source, options ...func(*Scheduler)) (*Scheduler, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid channel plan: %w", err)
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if src == nil {
		return nil, errors.New("sample source is required")
	}

	s := Scheduler{
		plan:   plan,
		engine: engine,
		src:    src,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

// Run executes the plan until it is exhausted or the context is cancelled,
// returning the total number of captures across all channels and passes.
// Cancellation is a clean stop, not an error: any active capture has already
// been force-finalized by the engine, and the source is deactivated before
// returning. A device or write fault aborts the run and is returned after
// the same cleanup.
func (s *Scheduler) Run(ctx context.Context) (total int, err error) {
	if err = s.src.Activate(); err != nil {
		return 0, fmt.Errorf("activating source: %w", err)
	}
	defer func() {
		if dErr := s.src.Deactivate(); dErr != nil && err == nil {
			err = fmt.Errorf("deactivating source: %w", dErr)
		}
	}()

	for pass := 1; ; pass++ {
		if s.plan.Passes != nil && pass > *s.plan.Passes {
			return total, nil
		}

		s.logger.Info("scan pass", slog.Int("pass", pass), slog.Int("channels", len(s.plan.Channels)))

		for _, freq := range s.plan.Channels {
			if ctx.Err() != nil {
				return total, nil
			}

			if err = s.src.Tune(freq); err != nil {
				return total, fmt.Errorf("tuning to %.0f Hz: %w", freq, err)
			}
			if !s.settle(ctx) {
				return total, nil
			}

			s.logger.Debug("dwelling", slog.Float64("freqHz", freq), slog.Duration("dwell", s.plan.Dwell))

			captures, chErr := s.engine.RunChannel(ctx, s.src, freq, s.plan.Dwell)
			total += captures

			switch {
			case errors.Is(chErr, context.Canceled), errors.Is(chErr, context.DeadlineExceeded):
				return total, nil
			case chErr != nil:
				return total, fmt.Errorf("channel %.0f Hz: %w", freq, chErr)
			}
		}
	}
}

// settle waits the post-tune settle delay; returns false when cancelled.
func (s *Scheduler) settle(ctx context.Context) bool {
	if s.plan.Settle <= 0 {
		return true
	}

	t := time.NewTimer(s.plan.Settle)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
