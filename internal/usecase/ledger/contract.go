package ledger

import (
	"context"

	"github.com/kailas-cloud/credex/internal/domain"
)

// Repository is the persistence contract for the credit ledger. The
// implementation must make each write a single atomic check-and-append step
// per agent.
type Repository interface {
	Reserve(ctx context.Context, agent, session, task string, estimated, limit int64) (domain.Transaction, error)
	Settle(ctx context.Context, agent, task string, actual, limit int64) (domain.Transaction, error)
	Reset(ctx context.Context, agent string, limit int64) (domain.Transaction, bool, error)
	Balance(ctx context.Context, agent string, limit int64) (int64, error)
	Transactions(ctx context.Context, agent string, count int) ([]domain.Transaction, error)
}

// Notifier delivers advisory messages to the coordination channel. Delivery
// failures are logged, never surfaced to the ledger caller.
type Notifier interface {
	Send(ctx context.Context, msg domain.Message) (string, error)
}
