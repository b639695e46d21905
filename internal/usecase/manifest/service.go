package manifest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
	"github.com/kailas-cloud/credex/internal/version"
)

// SchemaVersion identifies the manifest field layout.
const SchemaVersion = "1"

// Service maintains the shared coordination manifest. Each agent publishes
// only its own field subset; reads tolerate an offline peer by marking its
// fields stale instead of failing.
type Service struct {
	repo      Repository
	balances  BalanceReader
	staleness time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a manifest service. Heartbeats older than staleness mark an
// agent's snapshot entry as stale.
func New(repo Repository, balances BalanceReader, staleness time.Duration, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		balances:  balances,
		staleness: staleness,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source (test-only).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Publish overwrites the agent's manifest fields with its current ledger
// state. daily_used always comes from the balance resolver at publish time.
func (s *Service) Publish(ctx context.Context, agent, commitRef string) error {
	st, err := s.balances.Status(ctx, agent)
	if err != nil {
		return fmt.Errorf("publish %s: resolve balance: %w", agent, err)
	}
	if st.Degraded {
		// A degraded read must not be mirrored as authoritative state.
		return fmt.Errorf("publish %s: balance read degraded: %w", agent, domain.ErrStorageUnavailable)
	}

	status := domain.AgentStatus{
		AgentID:       agent,
		LastCommitRef: commitRef,
		DailyUsed:     st.Used,
		DailyLimit:    st.DailyLimit,
		LastHeartbeat: s.now().UTC(),
	}
	if err := s.repo.PublishAgent(ctx, status); err != nil {
		return err
	}
	return s.repo.PublishShared(ctx, version.Version, SchemaVersion, "")
}

// PublishResetDate records the shared last reset date.
func (s *Service) PublishResetDate(ctx context.Context, date string) error {
	return s.repo.PublishShared(ctx, "", "", date)
}

// Snapshot reads the full manifest. Agents whose heartbeat is older than the
// staleness threshold are marked stale; the read itself never fails on a
// stale peer.
func (s *Service) Snapshot(ctx context.Context) (domain.ManifestSnapshot, error) {
	snap, err := s.repo.Read(ctx)
	if err != nil {
		return domain.ManifestSnapshot{}, err
	}

	cutoff := s.now().UTC().Add(-s.staleness)
	for id, st := range snap.Agents {
		if s.staleness > 0 && st.LastHeartbeat.Before(cutoff) {
			st.Stale = true
			snap.Agents[id] = st
		}
	}
	return snap, nil
}

// Run republishes the agent's fields on the given interval until ctx is
// cancelled. commitRef is re-evaluated on each publish. Errors are logged and
// retried at the next tick, never fatal.
func (s *Service) Run(ctx context.Context, agent string, interval time.Duration, commitRef func() string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Publish(ctx, agent, commitRef()); err != nil {
			s.logger.Warn("manifest publish failed", zap.String("agent", agent), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
