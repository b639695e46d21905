package manifest

import (
	"context"

	"github.com/kailas-cloud/credex/internal/domain"
)

// Repository is the persistence contract for the shared manifest row.
type Repository interface {
	PublishAgent(ctx context.Context, status domain.AgentStatus) error
	PublishShared(ctx context.Context, coreVersion, schemaVersion, lastResetDate string) error
	Read(ctx context.Context) (domain.ManifestSnapshot, error)
}

// BalanceReader resolves an agent's budget state from the ledger. The
// manifest mirrors this value; it is never a second source of truth.
type BalanceReader interface {
	Status(ctx context.Context, agent string) (domain.BalanceStatus, error)
}
