package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
	"github.com/kailas-cloud/credex/internal/metrics"
)

// Service is the admission gate and settlement engine over the shared credit
// ledger. It is the only path by which an agent's balance is decremented.
// Safe for concurrent use; all mutual exclusion lives in the repository's
// atomic writes.
type Service struct {
	repo     Repository
	limits   domain.Limits
	agents   map[string]struct{} // empty = any agent id accepted
	notifier Notifier            // nil = advisory messages disabled
	logger   *zap.Logger
	now      func() time.Time

	// lastKnown caches the most recent balance per agent for degraded reads
	// when the store is unreachable. Never used for admission.
	lastKnown sync.Map // agent -> int64
}

// New creates a ledger service.
func New(repo Repository, limits domain.Limits, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		limits: limits,
		agents: make(map[string]struct{}),
		logger: logger,
		now:    time.Now,
	}
}

// WithAgents restricts admission to the configured agent set.
func (s *Service) WithAgents(agents []string) *Service {
	for _, a := range agents {
		if a != "" {
			s.agents[a] = struct{}{}
		}
	}
	return s
}

// WithNotifier attaches a channel publisher for threshold and overage
// warnings.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock overrides the time source (test-only).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Agents returns the configured agent ids.
func (s *Service) Agents() []string {
	out := make([]string, 0, len(s.agents))
	for a := range s.agents {
		out = append(out, a)
	}
	return out
}

// Limits returns the budget policy.
func (s *Service) Limits() domain.Limits { return s.limits }

// Reserve admits a budgeted action by pre-charging its estimated cost. A zero
// estimate always succeeds but still appends a transaction for audit
// continuity. On denial the ledger is untouched.
func (s *Service) Reserve(
	ctx context.Context, agent, session, task string, estimated int64,
) (domain.Transaction, error) {
	if err := s.checkAgent(agent); err != nil {
		return domain.Transaction{}, err
	}
	if task == "" {
		return domain.Transaction{}, fmt.Errorf("reserve: task id is required")
	}
	if estimated < 0 {
		return domain.Transaction{}, fmt.Errorf("reserve %s/%s: negative estimate %d", agent, task, estimated)
	}

	tx, err := s.repo.Reserve(ctx, agent, session, task, estimated, s.limits.DailyLimit)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			metrics.ReservationsTotal.WithLabelValues(agent, "denied").Inc()
			s.logger.Warn("admission denied",
				zap.String("agent", agent),
				zap.String("task", task),
				zap.Int64("estimated", estimated),
			)
		}
		return domain.Transaction{}, err
	}

	metrics.ReservationsTotal.WithLabelValues(agent, "approved").Inc()
	s.observeBalance(agent, tx.ResultingBalance)
	s.warnOnThreshold(ctx, agent, task, tx.ResultingBalance, estimated)

	return tx, nil
}

// Settle reconciles a prior reservation against the action's actual cost.
// Cheaper-than-estimated produces a REFUND; overage is charged against the
// current balance and reported, but never rolls back spend already admitted.
func (s *Service) Settle(
	ctx context.Context, agent, task string, actual int64,
) (domain.Transaction, error) {
	if err := s.checkAgent(agent); err != nil {
		return domain.Transaction{}, err
	}
	if actual < 0 {
		return domain.Transaction{}, fmt.Errorf("settle %s/%s: negative actual %d", agent, task, actual)
	}

	tx, err := s.repo.Settle(ctx, agent, task, actual, s.limits.DailyLimit)
	if err != nil {
		return domain.Transaction{}, err
	}

	metrics.SettlementsTotal.WithLabelValues(agent, string(tx.Kind)).Inc()
	s.observeBalance(agent, tx.ResultingBalance)

	if overage := actual - tx.EstimatedUnits; overage > s.limits.OverageTolerance {
		metrics.OverageUnitsTotal.WithLabelValues(agent).Add(float64(overage))
		s.logger.Warn("settlement overage",
			zap.String("agent", agent),
			zap.String("task", task),
			zap.Int64("estimated", tx.EstimatedUnits),
			zap.Int64("actual", actual),
			zap.Int64("overage", overage),
		)
		s.notify(ctx, domain.Message{
			From:  agent,
			To:    domain.Broadcast,
			Kind:  domain.KindWarning,
			Title: "settlement overage",
			Body: fmt.Sprintf("task %s spent %d units against an estimate of %d",
				task, actual, tx.EstimatedUnits),
			Metadata: map[string]string{"task_id": task},
		})
	}

	return tx, nil
}

// Reset stamps the agent's daily allowance grant. Idempotent per UTC day;
// the second call reports reset=false and leaves the ledger untouched. Spend
// already recorded for the day stays deducted.
func (s *Service) Reset(ctx context.Context, agent string) (domain.Transaction, bool, error) {
	if err := s.checkAgent(agent); err != nil {
		return domain.Transaction{}, false, err
	}

	tx, reset, err := s.repo.Reset(ctx, agent, s.limits.DailyLimit)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if reset {
		metrics.ResetsTotal.WithLabelValues(agent).Inc()
		s.observeBalance(agent, tx.ResultingBalance)
		s.logger.Info("daily allowance reset",
			zap.String("agent", agent),
			zap.Int64("balance", tx.ResultingBalance),
		)
	}
	return tx, reset, nil
}

// Status reports the agent's current budget state. When the store is
// unreachable the last known balance is served with Degraded set; admission
// never uses this fallback.
func (s *Service) Status(ctx context.Context, agent string) (domain.BalanceStatus, error) {
	if err := s.checkAgent(agent); err != nil {
		return domain.BalanceStatus{}, err
	}

	balance, err := s.repo.Balance(ctx, agent, s.limits.DailyLimit)
	if err != nil {
		cached, ok := s.lastKnown.Load(agent)
		if !ok {
			return domain.BalanceStatus{}, err
		}
		s.logger.Warn("serving degraded balance", zap.String("agent", agent), zap.Error(err))
		st := s.statusFor(agent, cached.(int64))
		st.Degraded = true
		return st, nil
	}

	s.observeBalance(agent, balance)
	return s.statusFor(agent, balance), nil
}

// Transactions returns the agent's ledger history in append order.
func (s *Service) Transactions(ctx context.Context, agent string, count int) ([]domain.Transaction, error) {
	if err := s.checkAgent(agent); err != nil {
		return nil, err
	}
	return s.repo.Transactions(ctx, agent, count)
}

func (s *Service) statusFor(agent string, balance int64) domain.BalanceStatus {
	limit := s.limits.DailyLimit
	used := limit - balance
	ratio := 0.0
	if limit > 0 {
		ratio = float64(used) / float64(limit)
	}
	now := s.now().UTC()
	return domain.BalanceStatus{
		AgentID:    agent,
		Balance:    balance,
		DailyLimit: limit,
		Used:       used,
		UsageRatio: ratio,
		Warning:    ratio >= s.limits.WarningThreshold,
		Exhausted:  balance <= 0,
		ResetsAt:   now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
}

func (s *Service) checkAgent(agent string) error {
	if agent == "" {
		return fmt.Errorf("agent id is required: %w", domain.ErrUnknownAgent)
	}
	// Storage keys join agent and task ids with ':', so an agent id carrying
	// one would make reservation keys ambiguous. The daemon config rejects
	// such ids up front; this guard covers embedded use without an allowlist.
	if strings.Contains(agent, ":") {
		return fmt.Errorf("agent %q: id must not contain ':': %w", agent, domain.ErrUnknownAgent)
	}
	if len(s.agents) == 0 {
		return nil
	}
	if _, ok := s.agents[agent]; !ok {
		return fmt.Errorf("agent %q: %w", agent, domain.ErrUnknownAgent)
	}
	return nil
}

func (s *Service) observeBalance(agent string, balance int64) {
	s.lastKnown.Store(agent, balance)
	metrics.BalanceUnits.WithLabelValues(agent).Set(float64(balance))
	if s.limits.DailyLimit > 0 {
		used := s.limits.DailyLimit - balance
		metrics.UsageRatio.WithLabelValues(agent).Set(float64(used) / float64(s.limits.DailyLimit))
	}
}

// warnOnThreshold fires once when a reservation moves usage across the
// warning threshold.
func (s *Service) warnOnThreshold(ctx context.Context, agent, task string, balance, estimated int64) {
	limit := s.limits.DailyLimit
	if limit <= 0 || s.limits.WarningThreshold <= 0 {
		return
	}
	warnUnits := int64(float64(limit) * s.limits.WarningThreshold)
	used := limit - balance
	prevUsed := used - estimated
	if used < warnUnits || prevUsed >= warnUnits {
		return
	}

	s.logger.Warn("budget warning threshold crossed",
		zap.String("agent", agent),
		zap.Int64("used", used),
		zap.Int64("limit", limit),
	)
	s.notify(ctx, domain.Message{
		From:  agent,
		To:    domain.Broadcast,
		Kind:  domain.KindWarning,
		Title: "budget warning threshold crossed",
		Body: fmt.Sprintf("%d of %d daily units used (%.0f%%)",
			used, limit, float64(used)/float64(limit)*100),
		Metadata: map[string]string{"task_id": task},
	})
}

func (s *Service) notify(ctx context.Context, msg domain.Message) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("failed to send advisory message", zap.Error(err))
	}
}
