package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	dbRedis "github.com/kailas-cloud/credex/internal/db/redis"
	"github.com/kailas-cloud/credex/internal/domain"
)

// newScriptRepo backs the repository with a real server so the Lua scripts
// themselves are under test, not a scripted double.
func newScriptRepo(t *testing.T) *Repo {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := dbRedis.NewStore(dbRedis.Config{Addrs: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(store.Close)

	clock := func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return New(store, "credex:").WithClock(clock)
}

// --- reserve / settle ---

func TestScripts_ReserveThenCheaperSettleRefunds(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	tx, err := repo.Reserve(ctx, "smart-layer", "sess-1", "task-1", 5000, 300000)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if tx.ResultingBalance != 295000 {
		t.Errorf("balance after reserve = %d, want 295000", tx.ResultingBalance)
	}

	tx, err = repo.Settle(ctx, "smart-layer", "task-1", 4600, 300000)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.Kind != domain.TxRefund {
		t.Errorf("kind = %s, want REFUND", tx.Kind)
	}
	if tx.ResultingBalance != 299600 {
		t.Errorf("balance after settle = %d, want 299600", tx.ResultingBalance)
	}
	if tx.EstimatedUnits != 5000 || tx.ActualUnits != 4600 {
		t.Errorf("units = %d/%d, want 5000/4600", tx.EstimatedUnits, tx.ActualUnits)
	}
	if tx.SessionID != "sess-1" {
		t.Errorf("session = %q, want sess-1", tx.SessionID)
	}

	if _, err := repo.Settle(ctx, "smart-layer", "task-1", 4600, 300000); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestScripts_DeniedReserveLeavesNoTrace(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	if _, err := repo.Reserve(ctx, "smart-layer", "", "task-1", 500, 1000); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err := repo.Reserve(ctx, "smart-layer", "", "task-2", 600, 1000)
	var ib *domain.InsufficientBalanceError
	if !errors.As(err, &ib) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if ib.Balance != 500 {
		t.Errorf("reported balance = %d, want 500", ib.Balance)
	}

	// The denial must not have decremented the balance or parked a
	// reservation; a fitting retry for the same task succeeds.
	balance, err := repo.Balance(ctx, "smart-layer", 1000)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Errorf("balance after denial = %d, want 500", balance)
	}
	tx, err := repo.Reserve(ctx, "smart-layer", "", "task-2", 500, 1000)
	if err != nil {
		t.Fatalf("retry reserve: %v", err)
	}
	if tx.ResultingBalance != 0 {
		t.Errorf("balance after retry = %d, want 0", tx.ResultingBalance)
	}
}

func TestScripts_DuplicateTaskRejected(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	if _, err := repo.Reserve(ctx, "smart-layer", "", "task-1", 100, 1000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := repo.Reserve(ctx, "smart-layer", "", "task-1", 100, 1000); !errors.Is(err, domain.ErrTaskReserved) {
		t.Fatalf("expected ErrTaskReserved, got %v", err)
	}
}

func TestScripts_SettleUnknownTask(t *testing.T) {
	repo := newScriptRepo(t)

	_, err := repo.Settle(context.Background(), "smart-layer", "ghost", 100, 1000)
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestScripts_OverageSettleClipsAtZero(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	if _, err := repo.Reserve(ctx, "smart-layer", "", "task-1", 800, 1000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tx, err := repo.Settle(ctx, "smart-layer", "task-1", 1500, 1000)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.Kind != domain.TxSettle {
		t.Errorf("kind = %s, want SETTLE", tx.Kind)
	}
	if tx.ResultingBalance != 0 {
		t.Errorf("balance = %d, want 0 (clipped)", tx.ResultingBalance)
	}
}

// --- reset ---

func TestScripts_ResetUntouchedDayGrantsFullLimit(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	tx, reset, err := repo.Reset(ctx, "smart-layer", 300000)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !reset {
		t.Fatal("expected reset=true")
	}
	if tx.ResultingBalance != 300000 {
		t.Errorf("balance = %d, want 300000", tx.ResultingBalance)
	}

	if _, reset, err = repo.Reset(ctx, "smart-layer", 300000); err != nil || reset {
		t.Fatalf("second reset: reset=%v err=%v, want false/nil", reset, err)
	}
}

func TestScripts_ResetPreservesRecordedSpend(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	if _, err := repo.Reserve(ctx, "smart-layer", "", "task-1", 200000, 300000); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	tx, reset, err := repo.Reset(ctx, "smart-layer", 300000)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !reset {
		t.Fatal("expected reset=true")
	}
	if tx.ResultingBalance != 100000 {
		t.Errorf("reset stamped balance %d, want 100000", tx.ResultingBalance)
	}

	balance, err := repo.Balance(ctx, "smart-layer", 300000)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 100000 {
		t.Errorf("balance after reset = %d, want 100000", balance)
	}

	// The day's spend stays charged: another full-limit reserve must be
	// denied, or the agent would spend twice the daily allowance.
	if _, err := repo.Reserve(ctx, "smart-layer", "", "task-2", 300000, 300000); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

// --- ledger log ---

func TestScripts_LogRecordsAppendOrder(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	if _, err := repo.Reserve(ctx, "smart-layer", "sess-1", "task-1", 500, 1000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := repo.Settle(ctx, "smart-layer", "task-1", 500, 1000); err != nil {
		t.Fatalf("settle: %v", err)
	}

	txs, err := repo.Transactions(ctx, "smart-layer", 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(txs))
	}
	if txs[0].Kind != domain.TxReserve || txs[1].Kind != domain.TxSettle {
		t.Errorf("kinds = %s/%s, want RESERVE/SETTLE", txs[0].Kind, txs[1].Kind)
	}
	if txs[0].ID >= txs[1].ID {
		t.Errorf("ids not monotonic: %d then %d", txs[0].ID, txs[1].ID)
	}
}

// --- concurrency ---

func TestScripts_ConcurrentReservesNeverOverdraw(t *testing.T) {
	repo := newScriptRepo(t)
	ctx := context.Background()

	const (
		limit    = int64(1000)
		estimate = int64(100)
		workers  = 20
	)

	var wg sync.WaitGroup
	var approved atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			task := "task-" + string(rune('a'+n))
			if _, err := repo.Reserve(ctx, "smart-layer", "", task, estimate, limit); err == nil {
				approved.Add(1)
			}
		}(i)
	}
	wg.Wait()

	balance, err := repo.Balance(ctx, "smart-layer", limit)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance < 0 {
		t.Fatalf("balance overdrawn: %d", balance)
	}
	if got := approved.Load(); got != limit/estimate {
		t.Errorf("approved %d reservations, want %d", got, limit/estimate)
	}
	if want := limit - approved.Load()*estimate; balance != want {
		t.Errorf("balance = %d, want %d", balance, want)
	}
}
