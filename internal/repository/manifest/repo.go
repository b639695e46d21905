package manifest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/credex/internal/domain"
)

// store is the consumer interface for the manifest row (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Repo persists the shared coordination manifest as a single hash row. Each
// agent overwrites only its own field subset, so concurrent publishes from
// different agents never clobber each other.
type Repo struct {
	store  store
	prefix string
}

// New creates a manifest repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

func (r *Repo) key() string {
	return r.prefix + "manifest"
}

func agentField(agent, field string) string {
	return "agent:" + agent + ":" + field
}

// PublishAgent overwrites the calling agent's field subset. The heartbeat is
// the publish timestamp; overwrites are idempotent.
func (r *Repo) PublishAgent(ctx context.Context, status domain.AgentStatus) error {
	fields := map[string]string{
		agentField(status.AgentID, "commit"):      status.LastCommitRef,
		agentField(status.AgentID, "daily_used"):  strconv.FormatInt(status.DailyUsed, 10),
		agentField(status.AgentID, "daily_limit"): strconv.FormatInt(status.DailyLimit, 10),
		agentField(status.AgentID, "heartbeat"):   strconv.FormatInt(status.LastHeartbeat.UnixMilli(), 10),
	}
	if err := r.store.HSet(ctx, r.key(), fields); err != nil {
		return fmt.Errorf("publish manifest %s: %w: %w", status.AgentID, domain.ErrStorageUnavailable, err)
	}
	return nil
}

// PublishShared overwrites the shared field subset (versions, reset date).
// Empty values are skipped so callers can update fields independently.
func (r *Repo) PublishShared(ctx context.Context, coreVersion, schemaVersion, lastResetDate string) error {
	fields := make(map[string]string, 3)
	if coreVersion != "" {
		fields["core_version"] = coreVersion
	}
	if schemaVersion != "" {
		fields["schema_version"] = schemaVersion
	}
	if lastResetDate != "" {
		fields["last_reset_date"] = lastResetDate
	}
	if len(fields) == 0 {
		return nil
	}
	if err := r.store.HSet(ctx, r.key(), fields); err != nil {
		return fmt.Errorf("publish manifest shared: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Read returns the full manifest snapshot. Staleness marking is left to the
// caller; the repository reports heartbeats as stored.
func (r *Repo) Read(ctx context.Context) (domain.ManifestSnapshot, error) {
	raw, err := r.store.HGetAll(ctx, r.key())
	if err != nil {
		return domain.ManifestSnapshot{}, fmt.Errorf("read manifest: %w: %w", domain.ErrStorageUnavailable, err)
	}

	snap := domain.ManifestSnapshot{
		CoreVersion:   raw["core_version"],
		SchemaVersion: raw["schema_version"],
		LastResetDate: raw["last_reset_date"],
		Agents:        make(map[string]domain.AgentStatus),
	}

	for field, value := range raw {
		rest, ok := strings.CutPrefix(field, "agent:")
		if !ok {
			continue
		}
		agent, name, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		st := snap.Agents[agent]
		st.AgentID = agent
		switch name {
		case "commit":
			st.LastCommitRef = value
		case "daily_used":
			st.DailyUsed, _ = strconv.ParseInt(value, 10, 64)
		case "daily_limit":
			st.DailyLimit, _ = strconv.ParseInt(value, 10, 64)
		case "heartbeat":
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
				st.LastHeartbeat = time.UnixMilli(ms).UTC()
			}
		}
		snap.Agents[agent] = st
	}

	return snap, nil
}
