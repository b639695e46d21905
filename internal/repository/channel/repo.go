package channel

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/credex/internal/db"
	"github.com/kailas-cloud/credex/internal/domain"
)

// store is the consumer interface for the message log (ISP).
type store interface {
	XAdd(ctx context.Context, key string, fields map[string]string) (string, error)
	XRange(ctx context.Context, key, start, end string, count int) ([]db.StreamEntry, error)
	XTrimMinID(ctx context.Context, key, minID string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Repo persists the cross-agent message log as a single append-only stream.
// Stream ids are assigned in append order, which preserves per-sender
// ordering, and double as poll cursors.
type Repo struct {
	store  store
	prefix string
}

// New creates a channel repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

func (r *Repo) logKey() string {
	return r.prefix + "channel:log"
}

func (r *Repo) readKey(messageID string) string {
	return r.prefix + "channel:read:" + messageID
}

// Append writes a message to the log and returns its assigned id.
func (r *Repo) Append(ctx context.Context, msg domain.Message) (string, error) {
	fields, err := messageFields(msg)
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	id, err := r.store.XAdd(ctx, r.logKey(), fields)
	if err != nil {
		return "", fmt.Errorf("append message: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return id, nil
}

// Range reads messages created after the given cursor, oldest first, at most
// count entries when count > 0. An empty cursor reads from the beginning.
func (r *Repo) Range(ctx context.Context, after string, count int) ([]domain.Message, error) {
	start := "-"
	if after != "" {
		// '(' makes the start exclusive so a repeated poll never re-reads
		// its own cursor entry.
		start = "(" + after
	}

	entries, err := r.store.XRange(ctx, r.logKey(), start, "+", count)
	if err != nil {
		return nil, fmt.Errorf("range messages: %w: %w", domain.ErrStorageUnavailable, err)
	}

	msgs := make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, parseMessage(e.ID, e.Fields))
	}
	return msgs, nil
}

// MarkRead adds the agent to the message's read set. Idempotent.
func (r *Repo) MarkRead(ctx context.Context, messageID, agent string) error {
	if err := r.store.SAdd(ctx, r.readKey(messageID), agent); err != nil {
		return fmt.Errorf("mark read %s: %w: %w", messageID, domain.ErrStorageUnavailable, err)
	}
	return nil
}

// ReadBy returns the agents that have acknowledged the message.
func (r *Repo) ReadBy(ctx context.Context, messageID string) ([]string, error) {
	members, err := r.store.SMembers(ctx, r.readKey(messageID))
	if err != nil {
		return nil, fmt.Errorf("read by %s: %w: %w", messageID, domain.ErrStorageUnavailable, err)
	}
	return members, nil
}

// TrimBefore compacts the log, dropping entries older than minID. Used by the
// retention sweep; message history inside the window is never touched.
func (r *Repo) TrimBefore(ctx context.Context, minID string) error {
	if err := r.store.XTrimMinID(ctx, r.logKey(), minID); err != nil {
		return fmt.Errorf("trim messages: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}
