package reset

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/domain"
)

type mockResetter struct {
	agents  []string
	resets  map[string]int
	already map[string]bool
	err     error
}

func (m *mockResetter) Reset(_ context.Context, agent string) (domain.Transaction, bool, error) {
	if m.err != nil {
		return domain.Transaction{}, false, m.err
	}
	if m.resets == nil {
		m.resets = make(map[string]int)
	}
	if m.already[agent] {
		return domain.Transaction{}, false, nil
	}
	m.resets[agent]++
	return domain.Transaction{AgentID: agent, Kind: domain.TxReset, ResultingBalance: 300000}, true, nil
}

func (m *mockResetter) Agents() []string { return m.agents }

type mockPublisher struct {
	dates []string
	err   error
}

func (m *mockPublisher) PublishResetDate(_ context.Context, date string) error {
	if m.err != nil {
		return m.err
	}
	m.dates = append(m.dates, date)
	return nil
}

func TestResetAll_ResetsEveryAgentAndPublishesDate(t *testing.T) {
	resetter := &mockResetter{agents: []string{"smart-layer", "idea-engine"}}
	publisher := &mockPublisher{}
	fixed := time.Date(2025, 6, 15, 0, 5, 0, 0, time.UTC)

	s := New(resetter, 5*time.Minute, zap.NewNop()).
		WithSharedPublisher(publisher).
		WithClock(func() time.Time { return fixed })

	s.ResetAll(context.Background())

	if resetter.resets["smart-layer"] != 1 || resetter.resets["idea-engine"] != 1 {
		t.Errorf("expected one reset per agent, got %v", resetter.resets)
	}
	if len(publisher.dates) != 1 || publisher.dates[0] != "2025-06-15" {
		t.Errorf("expected reset date published, got %v", publisher.dates)
	}
}

func TestResetAll_NoopWhenAlreadyResetToday(t *testing.T) {
	resetter := &mockResetter{
		agents:  []string{"smart-layer"},
		already: map[string]bool{"smart-layer": true},
	}
	publisher := &mockPublisher{}

	s := New(resetter, 0, zap.NewNop()).WithSharedPublisher(publisher)
	s.ResetAll(context.Background())

	if len(resetter.resets) != 0 {
		t.Errorf("expected no resets, got %v", resetter.resets)
	}
	if len(publisher.dates) != 0 {
		t.Error("idempotent cycle must not republish the reset date")
	}
}

func TestResetAll_OneAgentFailingDoesNotBlockOthers(t *testing.T) {
	// Errors are retried at the next cycle; the healthy agent still resets.
	failing := &mockResetter{agents: []string{"smart-layer"}, err: errors.New("down")}
	s := New(failing, 0, zap.NewNop())
	s.ResetAll(context.Background()) // must not panic and must swallow the error

	healthy := &mockResetter{agents: []string{"idea-engine"}}
	s2 := New(healthy, 0, zap.NewNop())
	s2.ResetAll(context.Background())
	if healthy.resets["idea-engine"] != 1 {
		t.Errorf("expected healthy agent reset, got %v", healthy.resets)
	}
}

func TestUntilNextFire_TargetsMidnightPlusOffset(t *testing.T) {
	fixed := time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC)
	s := New(&mockResetter{}, 5*time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return fixed })

	d := s.untilNextFire()
	if d != time.Hour+5*time.Minute {
		t.Errorf("expected 1h5m until fire, got %v", d)
	}
}

func TestUntilNextFire_JustAfterBoundary(t *testing.T) {
	// Right after midnight the immediate ResetAll at startup covers today;
	// the timer targets tomorrow's offset.
	fixed := time.Date(2025, 6, 15, 0, 1, 0, 0, time.UTC)
	s := New(&mockResetter{}, 5*time.Minute, zap.NewNop()).
		WithClock(func() time.Time { return fixed })

	d := s.untilNextFire()
	if d != 24*time.Hour+4*time.Minute {
		t.Errorf("unexpected wait: %v", d)
	}
}
