package manifest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/credex/internal/domain"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetFn    func(ctx context.Context, key string, fields map[string]string) error
	hgetAllFn func(ctx context.Context, key string) (map[string]string, error)
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func TestPublishAgent_WritesOwnFieldSubset(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, "credex:")

	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		if key != "credex:manifest" {
			t.Errorf("unexpected key: %s", key)
		}
		if fields["agent:smart-layer:commit"] != "abc123" {
			t.Errorf("unexpected commit field: %v", fields)
		}
		if fields["agent:smart-layer:daily_used"] != "4500" {
			t.Errorf("unexpected daily_used: %v", fields)
		}
		if _, ok := fields["agent:idea-engine:commit"]; ok {
			t.Error("must not touch the peer's fields")
		}
		return nil
	}

	err := repo.PublishAgent(context.Background(), domain.AgentStatus{
		AgentID:       "smart-layer",
		LastCommitRef: "abc123",
		DailyUsed:     4500,
		DailyLimit:    300000,
		LastHeartbeat: time.UnixMilli(1718000000000).UTC(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublishShared_SkipsEmptyValues(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, "credex:")

	ms.hsetFn = func(_ context.Context, _ string, fields map[string]string) error {
		if len(fields) != 1 {
			t.Errorf("expected only non-empty fields, got %v", fields)
		}
		if fields["last_reset_date"] != "2025-06-15" {
			t.Errorf("unexpected fields: %v", fields)
		}
		return nil
	}

	if err := repo.PublishShared(context.Background(), "", "", "2025-06-15"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPublishShared_AllEmptyIsNoop(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, "credex:")

	called := false
	ms.hsetFn = func(_ context.Context, _ string, _ map[string]string) error {
		called = true
		return nil
	}

	if err := repo.PublishShared(context.Background(), "", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected no write for all-empty publish")
	}
}

func TestRead_ParsesAgentsAndSharedFields(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, "credex:")

	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return map[string]string{
			"core_version":                  "1.4.0",
			"schema_version":                "1",
			"last_reset_date":               "2025-06-15",
			"agent:smart-layer:commit":      "abc123",
			"agent:smart-layer:daily_used":  "4500",
			"agent:smart-layer:daily_limit": "300000",
			"agent:smart-layer:heartbeat":   "1718000000000",
			"agent:idea-engine:commit":      "def456",
			"agent:idea-engine:daily_used":  "120000",
			"agent:idea-engine:daily_limit": "300000",
			"agent:idea-engine:heartbeat":   "1718000060000",
		}, nil
	}

	snap, err := repo.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.CoreVersion != "1.4.0" || snap.SchemaVersion != "1" {
		t.Errorf("unexpected shared fields: %+v", snap)
	}
	if len(snap.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(snap.Agents))
	}
	sl := snap.Agents["smart-layer"]
	if sl.LastCommitRef != "abc123" || sl.DailyUsed != 4500 {
		t.Errorf("unexpected agent status: %+v", sl)
	}
	if sl.LastHeartbeat.UnixMilli() != 1718000000000 {
		t.Errorf("unexpected heartbeat: %v", sl.LastHeartbeat)
	}
}

func TestRead_StoreError(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, "credex:")

	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return nil, errors.New("connection lost")
	}

	_, err := repo.Read(context.Background())
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
