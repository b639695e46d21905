package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/credex/internal/db"
	"github.com/kailas-cloud/credex/internal/domain"
)

// --- Reserve ---

func TestReserve_HappyPath(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	ms.evalScriptFn = func(_ context.Context, script string, keys, args []string) ([]string, error) {
		if script != reserveScript {
			t.Error("expected reserve script")
		}
		if keys[0] != "credex:ledger:balance:smart-layer:2025-06-15" {
			t.Errorf("unexpected balance key: %s", keys[0])
		}
		if keys[1] != "credex:ledger:log:smart-layer" {
			t.Errorf("unexpected log key: %s", keys[1])
		}
		if keys[2] != "credex:ledger:resv:smart-layer:task-1" {
			t.Errorf("unexpected reservation key: %s", keys[2])
		}
		if args[3] != "5000" {
			t.Errorf("unexpected estimate arg: %s", args[3])
		}
		return []string{"OK", "42", "295000"}, nil
	}

	tx, err := repo.Reserve(ctx, "smart-layer", "sess-1", "task-1", 5000, 300000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.ID != 42 {
		t.Errorf("expected id 42, got %d", tx.ID)
	}
	if tx.Kind != domain.TxReserve {
		t.Errorf("expected RESERVE, got %s", tx.Kind)
	}
	if tx.ResultingBalance != 295000 {
		t.Errorf("expected balance 295000, got %d", tx.ResultingBalance)
	}
	if tx.EstimatedUnits != 5000 {
		t.Errorf("expected estimated 5000, got %d", tx.EstimatedUnits)
	}
}

func TestReserve_Insufficient(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return []string{"INSUFFICIENT", "120"}, nil
	}

	_, err := repo.Reserve(context.Background(), "smart-layer", "", "task-1", 5000, 300000)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	var ib *domain.InsufficientBalanceError
	if !errors.As(err, &ib) {
		t.Fatal("expected InsufficientBalanceError")
	}
	if ib.Balance != 120 || ib.Requested != 5000 {
		t.Errorf("unexpected detail: balance=%d requested=%d", ib.Balance, ib.Requested)
	}
}

func TestReserve_TaskAlreadyReserved(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return []string{"TASK_RESERVED"}, nil
	}

	_, err := repo.Reserve(context.Background(), "smart-layer", "", "task-1", 100, 300000)
	if !errors.Is(err, domain.ErrTaskReserved) {
		t.Fatalf("expected ErrTaskReserved, got %v", err)
	}
}

func TestReserve_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return nil, errors.New("connection refused")
	}

	_, err := repo.Reserve(context.Background(), "smart-layer", "", "task-1", 100, 300000)
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestReserve_UnexpectedReply(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return []string{"WAT"}, nil
	}

	_, err := repo.Reserve(context.Background(), "smart-layer", "", "task-1", 100, 300000)
	if err == nil {
		t.Fatal("expected error on unexpected reply")
	}
}

// --- Settle ---

func TestSettle_ChargesActual(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, script string, _, args []string) ([]string, error) {
		if script != settleScript {
			t.Error("expected settle script")
		}
		if args[2] != "4800" {
			t.Errorf("unexpected actual arg: %s", args[2])
		}
		return []string{"OK", "43", "295200", "REFUND", "5000", "sess-1"}, nil
	}

	tx, err := repo.Settle(context.Background(), "smart-layer", "task-1", 4800, 300000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Kind != domain.TxRefund {
		t.Errorf("expected REFUND, got %s", tx.Kind)
	}
	if tx.EstimatedUnits != 5000 {
		t.Errorf("expected estimated 5000, got %d", tx.EstimatedUnits)
	}
	if tx.ActualUnits != 4800 {
		t.Errorf("expected actual 4800, got %d", tx.ActualUnits)
	}
	if tx.SessionID != "sess-1" {
		t.Errorf("expected session carried over, got %q", tx.SessionID)
	}
}

func TestSettle_OverageKind(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return []string{"OK", "44", "294000", "SETTLE", "5000", ""}, nil
	}

	tx, err := repo.Settle(context.Background(), "smart-layer", "task-1", 6000, 300000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Kind != domain.TxSettle {
		t.Errorf("expected SETTLE, got %s", tx.Kind)
	}
}

func TestSettle_UnknownTask(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return []string{"UNKNOWN_TASK"}, nil
	}

	_, err := repo.Settle(context.Background(), "smart-layer", "nope", 100, 300000)
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestSettle_AlreadySettled(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return []string{"ALREADY_SETTLED"}, nil
	}

	_, err := repo.Settle(context.Background(), "smart-layer", "task-1", 100, 300000)
	if !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

// --- Reset ---

func TestReset_HappyPath(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, script string, keys, _ []string) ([]string, error) {
		if script != resetScript {
			t.Error("expected reset script")
		}
		if keys[2] != "credex:ledger:reset:smart-layer:2025-06-15" {
			t.Errorf("unexpected reset marker key: %s", keys[2])
		}
		return []string{"OK", "45", "300000"}, nil
	}

	tx, reset, err := repo.Reset(context.Background(), "smart-layer", 300000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reset {
		t.Fatal("expected reset=true")
	}
	if tx.Kind != domain.TxReset {
		t.Errorf("expected RESET, got %s", tx.Kind)
	}
	if tx.ResultingBalance != 300000 {
		t.Errorf("expected balance 300000, got %d", tx.ResultingBalance)
	}
}

func TestReset_AlreadyDoneToday(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.evalScriptFn = func(_ context.Context, _ string, _, _ []string) ([]string, error) {
		return []string{"NOOP"}, nil
	}

	_, reset, err := repo.Reset(context.Background(), "smart-layer", 300000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reset {
		t.Fatal("expected reset=false on repeat")
	}
}

// --- Balance ---

func TestBalance_ReadsCurrentDay(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.getFn = func(_ context.Context, key string) ([]byte, error) {
		if key != "credex:ledger:balance:smart-layer:2025-06-15" {
			t.Errorf("unexpected key: %s", key)
		}
		return []byte("123456"), nil
	}

	balance, err := repo.Balance(context.Background(), "smart-layer", 300000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 123456 {
		t.Errorf("expected 123456, got %d", balance)
	}
}

func TestBalance_AbsentKeyMeansFullAllowance(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, db.ErrKeyNotFound
	}

	balance, err := repo.Balance(context.Background(), "smart-layer", 300000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 300000 {
		t.Errorf("expected full limit 300000, got %d", balance)
	}
}

func TestBalance_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, errors.New("connection lost")
	}

	_, err := repo.Balance(context.Background(), "smart-layer", 300000)
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

// --- Transactions ---

func TestTransactions_ParsesEntries(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.xrangeFn = func(_ context.Context, key, start, end string, _ int) ([]db.StreamEntry, error) {
		if key != "credex:ledger:log:smart-layer" {
			t.Errorf("unexpected key: %s", key)
		}
		if start != "-" || end != "+" {
			t.Errorf("unexpected range %s..%s", start, end)
		}
		return []db.StreamEntry{
			{ID: "1-0", Fields: map[string]string{
				"id": "1", "kind": "RESERVE", "agent": "smart-layer",
				"session": "s", "task": "t1", "estimated": "5000",
				"actual": "0", "balance": "295000", "created_ms": "1750000000000",
			}},
			{ID: "2-0", Fields: map[string]string{
				"id": "2", "kind": "REFUND", "agent": "smart-layer",
				"task": "t1", "estimated": "5000", "actual": "4800", "balance": "295200",
			}},
		}, nil
	}

	txs, err := repo.Transactions(context.Background(), "smart-layer", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Kind != domain.TxReserve || txs[1].Kind != domain.TxRefund {
		t.Errorf("unexpected kinds: %s, %s", txs[0].Kind, txs[1].Kind)
	}
	if txs[0].CreatedAt.IsZero() {
		t.Error("expected created_ms parsed")
	}
}

// --- OpenReservations ---

func TestOpenReservations_SkipsSettled(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "credex:ledger:resv:*" {
			t.Errorf("unexpected pattern: %s", pattern)
		}
		return []string{
			"credex:ledger:resv:smart-layer:task-1",
			"credex:ledger:resv:idea-engine:task-2",
		}, nil
	}
	ms.hgetAllFn = func(_ context.Context, key string) (map[string]string, error) {
		if key == "credex:ledger:resv:smart-layer:task-1" {
			return map[string]string{"settled": "1", "estimated": "100"}, nil
		}
		return map[string]string{
			"settled": "0", "estimated": "250", "session": "s2",
			"created_ms": "1750000000000",
		}, nil
	}

	open, err := repo.OpenReservations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open reservation, got %d", len(open))
	}
	if open[0].AgentID != "idea-engine" || open[0].TaskID != "task-2" {
		t.Errorf("unexpected reservation: %+v", open[0])
	}
	if open[0].EstimatedUnits != 250 {
		t.Errorf("expected estimated 250, got %d", open[0].EstimatedUnits)
	}
}

func TestOpenReservations_TaskIDWithColons(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.scanFn = func(_ context.Context, _ string) ([]string, error) {
		return []string{"credex:ledger:resv:idea-engine:job:2025:17"}, nil
	}
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return map[string]string{"settled": "0", "estimated": "10"}, nil
	}

	open, err := repo.OpenReservations(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(open))
	}
	if open[0].TaskID != "job:2025:17" {
		t.Errorf("expected task id with colons preserved, got %q", open[0].TaskID)
	}
}
