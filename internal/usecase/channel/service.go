package channel

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
	"github.com/kailas-cloud/credex/internal/metrics"
)

// defaultPollLimit bounds one poll call; the returned cursor makes the
// sequence restartable.
const defaultPollLimit = 100

// PollResult is one page of messages plus the cursor for the next call.
type PollResult struct {
	Messages []domain.Message
	Cursor   string
}

// Service is the ordered, at-least-once message channel between agents.
// Messages carry no admission control; sending always succeeds while the
// store is reachable.
type Service struct {
	repo      Repository
	pollLimit int
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a channel service.
func New(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, pollLimit: defaultPollLimit, logger: logger, now: time.Now}
}

// WithPollLimit overrides the per-call message cap.
func (s *Service) WithPollLimit(limit int) *Service {
	if limit > 0 {
		s.pollLimit = limit
	}
	return s
}

// WithClock overrides the time source (test-only).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Send appends a message to the channel and returns its id.
func (s *Service) Send(ctx context.Context, msg domain.Message) (string, error) {
	if msg.From == "" {
		return "", fmt.Errorf("send: from agent is required")
	}
	if !msg.Kind.Valid() {
		return "", fmt.Errorf("send: kind %q: %w", msg.Kind, domain.ErrInvalidKind)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	id, err := s.repo.Append(ctx, msg)
	if err != nil {
		return "", err
	}

	metrics.MessagesTotal.WithLabelValues(msg.From, string(msg.Kind)).Inc()
	s.logger.Debug("message sent",
		zap.String("id", id),
		zap.String("from", msg.From),
		zap.String("to", msg.To),
		zap.String("kind", string(msg.Kind)),
	)
	return id, nil
}

// Poll returns messages addressed to agent (directly or broadcast) created
// after the cursor, in creation order. The returned cursor resumes the
// sequence; polling with it repeatedly walks the log without re-delivery.
// An empty cursor starts from the beginning of the retained log.
func (s *Service) Poll(ctx context.Context, agent, cursor string, limit int) (PollResult, error) {
	if agent == "" {
		return PollResult{}, fmt.Errorf("poll: agent id is required")
	}
	if limit <= 0 || limit > s.pollLimit {
		limit = s.pollLimit
	}

	cursor, err := normalizeCursor(cursor)
	if err != nil {
		return PollResult{}, fmt.Errorf("poll: %w", err)
	}

	result := PollResult{Cursor: cursor}
	for len(result.Messages) < limit {
		batch, err := s.repo.Range(ctx, result.Cursor, limit)
		if err != nil {
			return PollResult{}, err
		}
		if len(batch) == 0 {
			break
		}
		for _, msg := range batch {
			result.Cursor = msg.ID
			if msg.From == agent || !msg.AddressedTo(agent) {
				continue
			}
			result.Messages = append(result.Messages, msg)
			if len(result.Messages) == limit {
				break
			}
		}
	}
	return result, nil
}

var streamIDPattern = regexp.MustCompile(`^\d+(-\d+)?$`)

// normalizeCursor accepts a stream id or an RFC3339 timestamp. A timestamp
// maps to the last possible id of the preceding millisecond, so the exclusive
// range starts exactly at the given instant.
func normalizeCursor(cursor string) (string, error) {
	if cursor == "" || streamIDPattern.MatchString(cursor) {
		return cursor, nil
	}
	t, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		return "", fmt.Errorf("cursor %q: %w", cursor, domain.ErrInvalidCursor)
	}
	return strconv.FormatInt(t.UnixMilli()-1, 10) + "-18446744073709551615", nil
}

// Acknowledge marks a message read by agent. Idempotent.
func (s *Service) Acknowledge(ctx context.Context, messageID, agent string) error {
	if messageID == "" || agent == "" {
		return fmt.Errorf("acknowledge: message id and agent are required")
	}
	return s.repo.MarkRead(ctx, messageID, agent)
}

// ReadBy returns the agents that have acknowledged the message.
func (s *Service) ReadBy(ctx context.Context, messageID string) ([]string, error) {
	return s.repo.ReadBy(ctx, messageID)
}
