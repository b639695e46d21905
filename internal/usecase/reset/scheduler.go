package reset

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
)

// Resetter stamps one agent's daily allowance grant. The bool result reports
// whether a reset actually happened (false when the day was already reset).
type Resetter interface {
	Reset(ctx context.Context, agent string) (domain.Transaction, bool, error)
	Agents() []string
}

// SharedPublisher records the reset date in the coordination manifest.
// Optional; failures are logged and retried at the next cycle.
type SharedPublisher interface {
	PublishResetDate(ctx context.Context, date string) error
}

// Scheduler stamps a RESET transaction per agent once per UTC day. The
// underlying reset is idempotent, so running redundant scheduler instances
// (or retrying after a crash) is safe; each agent resets independently of the
// others' health.
type Scheduler struct {
	resetter  Resetter
	publisher SharedPublisher // nil = manifest updates disabled
	offset    time.Duration   // delay after UTC midnight
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a reset scheduler firing at UTC midnight plus offset.
func New(resetter Resetter, offset time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		resetter: resetter,
		offset:   offset,
		logger:   logger,
		now:      time.Now,
	}
}

// WithSharedPublisher attaches a manifest publisher for last_reset_date.
func (s *Scheduler) WithSharedPublisher(p SharedPublisher) *Scheduler {
	s.publisher = p
	return s
}

// WithClock overrides the time source (test-only).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run stamps the day's reset immediately (covers a boundary missed while the
// process was down; spend already recorded for the day is preserved), then
// fires at each day boundary until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.ResetAll(ctx)

	for {
		timer := time.NewTimer(s.untilNextFire())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.ResetAll(ctx)
		}
	}
}

// ResetAll runs the idempotent reset for every configured agent.
func (s *Scheduler) ResetAll(ctx context.Context) {
	date := s.now().UTC().Format("2006-01-02")
	anyReset := false

	for _, agent := range s.resetter.Agents() {
		tx, reset, err := s.resetter.Reset(ctx, agent)
		if err != nil {
			// Next cycle retries; the existence check keeps retries safe.
			s.logger.Error("daily reset failed", zap.String("agent", agent), zap.Error(err))
			continue
		}
		if reset {
			anyReset = true
			s.logger.Info("daily reset applied",
				zap.String("agent", agent),
				zap.Int64("balance", tx.ResultingBalance),
			)
		}
	}

	if anyReset && s.publisher != nil {
		if err := s.publisher.PublishResetDate(ctx, date); err != nil {
			s.logger.Warn("failed to publish reset date", zap.Error(err))
		}
	}
}

// untilNextFire computes the wait until the next UTC day boundary plus
// offset.
func (s *Scheduler) untilNextFire() time.Duration {
	now := s.now().UTC()
	next := now.Truncate(24 * time.Hour).Add(24*time.Hour + s.offset)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
