package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/credex/internal/db"
)

const testPrefix = "credex:"

// mockStore implements the consumer interface for tests.
type mockStore struct {
	getFn        func(ctx context.Context, key string) ([]byte, error)
	evalScriptFn func(ctx context.Context, script string, keys, args []string) ([]string, error)
	xrangeFn     func(ctx context.Context, key, start, end string, count int) ([]db.StreamEntry, error)
	scanFn       func(ctx context.Context, pattern string) ([]string, error)
	hgetAllFn    func(ctx context.Context, key string) (map[string]string, error)
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockStore) EvalScript(ctx context.Context, script string, keys, args []string) ([]string, error) {
	if m.evalScriptFn != nil {
		return m.evalScriptFn(ctx, script, keys, args)
	}
	return []string{"OK", "1", "0"}, nil
}

func (m *mockStore) XRange(ctx context.Context, key, start, end string, count int) ([]db.StreamEntry, error) {
	if m.xrangeFn != nil {
		return m.xrangeFn(ctx, key, start, end, count)
	}
	return nil, nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

// testClock pins the repo to a fixed instant so key dates are predictable.
var testNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	repo := New(ms, testPrefix).WithClock(func() time.Time { return testNow })
	return repo, ms
}
