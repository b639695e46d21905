package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
)

// Gate is the admission contract the guard composes with a caller-supplied
// cost estimator.
type Gate interface {
	Reserve(ctx context.Context, agent, session, task string, estimated int64) (domain.Transaction, error)
	Settle(ctx context.Context, agent, task string, actual int64) (domain.Transaction, error)
}

// Estimator returns the expected cost of the action about to run. Supplied by
// the caller; the ledger consumes only the resulting integer.
type Estimator func(ctx context.Context) (int64, error)

// Guard is the pre-action gate: it prices an action via the caller's
// estimator, admits it through the ledger, and hands back a Reservation the
// caller must finish exactly once.
type Guard struct {
	gate   Gate
	logger *zap.Logger
}

// New creates a pre-action guard.
func New(gate Gate, logger *zap.Logger) *Guard {
	return &Guard{gate: gate, logger: logger}
}

// Guard admits an action. An empty task id gets a generated one. On success
// the caller must call Settle with the real cost, or Abort when the action
// never ran.
func (g *Guard) Guard(
	ctx context.Context, agent, session, task string, estimate Estimator,
) (*Reservation, error) {
	if estimate == nil {
		return nil, fmt.Errorf("guard %s: estimator is required", agent)
	}
	if task == "" {
		task = uuid.NewString()
	}

	estimated, err := estimate(ctx)
	if err != nil {
		return nil, fmt.Errorf("guard %s/%s: estimate: %w", agent, task, err)
	}

	tx, err := g.gate.Reserve(ctx, agent, session, task, estimated)
	if err != nil {
		return nil, err
	}

	return &Reservation{
		guard: g,
		Tx:    tx,
	}, nil
}

// Reservation is an admitted action awaiting settlement. Settle or Abort must
// be called exactly once; further calls return ErrAlreadySettled.
type Reservation struct {
	guard *Guard
	Tx    domain.Transaction

	mu       sync.Mutex
	finished bool
}

// Settle reconciles the reservation to the action's actual cost.
func (r *Reservation) Settle(ctx context.Context, actual int64) (domain.Transaction, error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return domain.Transaction{}, fmt.Errorf("settle %s: %w", r.Tx.TaskID, domain.ErrAlreadySettled)
	}
	r.finished = true
	r.mu.Unlock()

	return r.guard.gate.Settle(ctx, r.Tx.AgentID, r.Tx.TaskID, actual)
}

// Abort settles the reservation with zero actual cost, refunding the full
// estimate. For actions that were admitted but never ran.
func (r *Reservation) Abort(ctx context.Context) error {
	_, err := r.Settle(ctx, 0)
	if err != nil {
		r.guard.logger.Warn("failed to abort reservation",
			zap.String("agent", r.Tx.AgentID),
			zap.String("task", r.Tx.TaskID),
			zap.Error(err),
		)
	}
	return err
}
