package sweep

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
	"github.com/kailas-cloud/credex/internal/metrics"
)

// ReservationLister reports reservations that have not been settled yet.
type ReservationLister interface {
	OpenReservations(ctx context.Context) ([]domain.Reservation, error)
}

// Settler reconciles a reservation to its actual cost.
type Settler interface {
	Settle(ctx context.Context, agent, task string, actual int64) (domain.Transaction, error)
}

// Trimmer compacts the message log below a retention cursor. Optional.
type Trimmer interface {
	TrimBefore(ctx context.Context, minID string) error
}

// Sweeper auto-settles reservations left open past their TTL with a zero
// actual cost, refunding the full estimate. This bounds budget leakage from
// crashed callers that never reached settlement. A caller racing the sweeper
// loses cleanly: the second settlement reports AlreadySettled, which the
// sweeper treats as success.
type Sweeper struct {
	lister    ReservationLister
	settler   Settler
	trimmer   Trimmer // nil = message retention disabled
	ttl       time.Duration
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a sweeper that refunds reservations older than ttl, scanning
// every interval.
func New(lister ReservationLister, settler Settler, ttl, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		lister:   lister,
		settler:  settler,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// WithRetention attaches message log compaction: entries older than the
// window are trimmed during each sweep.
func (s *Sweeper) WithRetention(t Trimmer, window time.Duration) *Sweeper {
	s.trimmer = t
	s.retention = window
	return s
}

// WithClock overrides the time source (test-only).
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep refunds all expired reservations once and applies message retention.
// Returns the number of reservations settled.
func (s *Sweeper) Sweep(ctx context.Context) int {
	open, err := s.lister.OpenReservations(ctx)
	if err != nil {
		s.logger.Error("reservation sweep failed", zap.Error(err))
		return 0
	}

	now := s.now().UTC()
	swept := 0
	for _, resv := range open {
		if resv.Age(now) < s.ttl {
			continue
		}

		_, err := s.settler.Settle(ctx, resv.AgentID, resv.TaskID, 0)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadySettled) || errors.Is(err, domain.ErrUnknownTask) {
				// The caller settled first, or the reservation hash expired.
				continue
			}
			s.logger.Error("failed to sweep reservation",
				zap.String("agent", resv.AgentID),
				zap.String("task", resv.TaskID),
				zap.Error(err),
			)
			continue
		}

		swept++
		metrics.SweptReservationsTotal.WithLabelValues(resv.AgentID).Inc()
		s.logger.Warn("refunded abandoned reservation",
			zap.String("agent", resv.AgentID),
			zap.String("task", resv.TaskID),
			zap.Int64("estimated", resv.EstimatedUnits),
			zap.Duration("age", resv.Age(now)),
		)
	}

	s.trimMessages(ctx, now)
	return swept
}

func (s *Sweeper) trimMessages(ctx context.Context, now time.Time) {
	if s.trimmer == nil || s.retention <= 0 {
		return
	}
	// Stream ids are millisecond-prefixed, so a timestamp is a valid cursor.
	minID := strconv.FormatInt(now.Add(-s.retention).UnixMilli(), 10)
	if err := s.trimmer.TrimBefore(ctx, minID); err != nil {
		s.logger.Warn("message retention trim failed", zap.Error(err))
	}
}
