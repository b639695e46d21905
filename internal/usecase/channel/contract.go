package channel

import (
	"context"

	"github.com/kailas-cloud/credex/internal/domain"
)

// Repository is the persistence contract for the message log.
type Repository interface {
	Append(ctx context.Context, msg domain.Message) (string, error)
	Range(ctx context.Context, after string, count int) ([]domain.Message, error)
	MarkRead(ctx context.Context, messageID, agent string) error
	ReadBy(ctx context.Context, messageID string) ([]string, error)
}
