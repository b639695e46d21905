package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kailas-cloud/credex/internal/domain"
)

// mockRepo implements Repository with function fields.
type mockRepo struct {
	reserveFn      func(ctx context.Context, agent, session, task string, estimated, limit int64) (domain.Transaction, error)
	settleFn       func(ctx context.Context, agent, task string, actual, limit int64) (domain.Transaction, error)
	resetFn        func(ctx context.Context, agent string, limit int64) (domain.Transaction, bool, error)
	balanceFn      func(ctx context.Context, agent string, limit int64) (int64, error)
	transactionsFn func(ctx context.Context, agent string, count int) ([]domain.Transaction, error)
}

func (m *mockRepo) Reserve(ctx context.Context, agent, session, task string, estimated, limit int64) (domain.Transaction, error) {
	if m.reserveFn != nil {
		return m.reserveFn(ctx, agent, session, task, estimated, limit)
	}
	return domain.Transaction{AgentID: agent, TaskID: task, Kind: domain.TxReserve}, nil
}

func (m *mockRepo) Settle(ctx context.Context, agent, task string, actual, limit int64) (domain.Transaction, error) {
	if m.settleFn != nil {
		return m.settleFn(ctx, agent, task, actual, limit)
	}
	return domain.Transaction{AgentID: agent, TaskID: task, Kind: domain.TxSettle}, nil
}

func (m *mockRepo) Reset(ctx context.Context, agent string, limit int64) (domain.Transaction, bool, error) {
	if m.resetFn != nil {
		return m.resetFn(ctx, agent, limit)
	}
	return domain.Transaction{AgentID: agent, Kind: domain.TxReset, ResultingBalance: limit}, true, nil
}

func (m *mockRepo) Balance(ctx context.Context, agent string, limit int64) (int64, error) {
	if m.balanceFn != nil {
		return m.balanceFn(ctx, agent, limit)
	}
	return limit, nil
}

func (m *mockRepo) Transactions(ctx context.Context, agent string, count int) ([]domain.Transaction, error) {
	if m.transactionsFn != nil {
		return m.transactionsFn(ctx, agent, count)
	}
	return nil, nil
}

// mockNotifier records sent messages.
type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.Message
}

func (m *mockNotifier) Send(_ context.Context, msg domain.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("%d-0", len(m.sent)), nil
}

func (m *mockNotifier) messages() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.sent...)
}

// memRepo is a mutex-serialized in-memory Repository mirroring the atomic
// check-and-append contract. Used for concurrency tests.
type memRepo struct {
	mu       sync.Mutex
	balances map[string]int64
	resvs    map[string]domain.Reservation
	log      []domain.Transaction
	seq      int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		balances: make(map[string]int64),
		resvs:    make(map[string]domain.Reservation),
	}
}

func (m *memRepo) balance(agent string, limit int64) int64 {
	if b, ok := m.balances[agent]; ok {
		return b
	}
	return limit
}

func (m *memRepo) Reserve(_ context.Context, agent, session, task string, estimated, limit int64) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := agent + ":" + task
	if resv, ok := m.resvs[key]; ok && !resv.Settled {
		return domain.Transaction{}, domain.ErrTaskReserved
	}
	bal := m.balance(agent, limit)
	if estimated > bal {
		return domain.Transaction{}, domain.NewInsufficientBalance(bal, estimated)
	}

	m.seq++
	m.balances[agent] = bal - estimated
	m.resvs[key] = domain.Reservation{
		AgentID: agent, SessionID: session, TaskID: task,
		EstimatedUnits: estimated, CreatedAt: time.Now().UTC(),
	}
	tx := domain.Transaction{
		ID: m.seq, AgentID: agent, SessionID: session, TaskID: task,
		Kind: domain.TxReserve, EstimatedUnits: estimated,
		ResultingBalance: m.balances[agent], CreatedAt: time.Now().UTC(),
	}
	m.log = append(m.log, tx)
	return tx, nil
}

func (m *memRepo) Settle(_ context.Context, agent, task string, actual, limit int64) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := agent + ":" + task
	resv, ok := m.resvs[key]
	if !ok {
		return domain.Transaction{}, domain.ErrUnknownTask
	}
	if resv.Settled {
		return domain.Transaction{}, domain.ErrAlreadySettled
	}

	bal := m.balance(agent, limit) + resv.EstimatedUnits - actual
	if bal < 0 {
		bal = 0
	}
	if bal > limit {
		bal = limit
	}

	kind := domain.TxSettle
	if actual < resv.EstimatedUnits {
		kind = domain.TxRefund
	}

	m.seq++
	m.balances[agent] = bal
	resv.Settled = true
	m.resvs[key] = resv
	tx := domain.Transaction{
		ID: m.seq, AgentID: agent, SessionID: resv.SessionID, TaskID: task,
		Kind: kind, EstimatedUnits: resv.EstimatedUnits, ActualUnits: actual,
		ResultingBalance: bal, CreatedAt: time.Now().UTC(),
	}
	m.log = append(m.log, tx)
	return tx, nil
}

func (m *memRepo) Reset(_ context.Context, agent string, limit int64) (domain.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Mirrors the storage script: the grant initializes an untouched balance
	// but never erases spend already recorded for the day.
	bal := m.balance(agent, limit)
	m.balances[agent] = bal

	m.seq++
	tx := domain.Transaction{
		ID: m.seq, AgentID: agent, Kind: domain.TxReset,
		ResultingBalance: bal, CreatedAt: time.Now().UTC(),
	}
	m.log = append(m.log, tx)
	return tx, true, nil
}

func (m *memRepo) Balance(_ context.Context, agent string, limit int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(agent, limit), nil
}

func (m *memRepo) Transactions(_ context.Context, agent string, count int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Transaction
	for _, tx := range m.log {
		if tx.AgentID == agent {
			out = append(out, tx)
		}
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}
