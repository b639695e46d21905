package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/credex/internal/db"
	"github.com/kailas-cloud/credex/internal/domain"
)

// store is the consumer interface for ledger persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	EvalScript(ctx context.Context, script string, keys, args []string) ([]string, error)
	XRange(ctx context.Context, key, start, end string, count int) ([]db.StreamEntry, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// keyTTL is the expiry applied to per-day balance keys, reset markers and
// reservation hashes. Long enough to settle across a day boundary, short
// enough that stale days do not accumulate.
const keyTTL = 48 * time.Hour

// Repo implements the durable credit ledger. All writes go through Lua
// scripts so that the balance check and the append are one atomic step per
// agent.
type Repo struct {
	store  store
	prefix string
	now    func() time.Time
}

// New creates a ledger repository. prefix namespaces all keys.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix, now: time.Now}
}

// WithClock overrides the time source (test-only).
func (r *Repo) WithClock(now func() time.Time) *Repo {
	r.now = now
	return r
}

func (r *Repo) balanceKey(agent, date string) string {
	return fmt.Sprintf("%sledger:balance:%s:%s", r.prefix, agent, date)
}

func (r *Repo) logKey(agent string) string {
	return fmt.Sprintf("%sledger:log:%s", r.prefix, agent)
}

func (r *Repo) resvKey(agent, task string) string {
	return fmt.Sprintf("%sledger:resv:%s:%s", r.prefix, agent, task)
}

func (r *Repo) resetKey(agent, date string) string {
	return fmt.Sprintf("%sledger:reset:%s:%s", r.prefix, agent, date)
}

func (r *Repo) seqKey() string {
	return r.prefix + "ledger:seq"
}

const dateLayout = "2006-01-02"

// Reserve atomically checks the balance and appends a RESERVE transaction.
// Fails with domain.ErrInsufficientBalance and no side effects when the
// estimate exceeds the available balance.
func (r *Repo) Reserve(
	ctx context.Context, agent, session, task string, estimated, limit int64,
) (domain.Transaction, error) {
	now := r.now().UTC()
	date := now.Format(dateLayout)

	keys := []string{r.balanceKey(agent, date), r.logKey(agent), r.resvKey(agent, task), r.seqKey()}
	args := []string{
		agent, session, task,
		strconv.FormatInt(estimated, 10),
		strconv.FormatInt(limit, 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		ttlSeconds(),
	}

	res, err := r.store.EvalScript(ctx, reserveScript, keys, args)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("reserve %s/%s: %w: %w", agent, task, domain.ErrStorageUnavailable, err)
	}

	switch code(res) {
	case "OK":
		id, balance, err := idAndBalance(res)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("reserve %s/%s: %w", agent, task, err)
		}
		return domain.Transaction{
			ID:               id,
			AgentID:          agent,
			SessionID:        session,
			TaskID:           task,
			Kind:             domain.TxReserve,
			EstimatedUnits:   estimated,
			ResultingBalance: balance,
			CreatedAt:        now,
		}, nil
	case "INSUFFICIENT":
		balance := int64(0)
		if len(res) > 1 {
			balance, _ = strconv.ParseInt(res[1], 10, 64)
		}
		return domain.Transaction{}, domain.NewInsufficientBalance(balance, estimated)
	case "TASK_RESERVED":
		return domain.Transaction{}, fmt.Errorf("reserve %s/%s: %w", agent, task, domain.ErrTaskReserved)
	default:
		return domain.Transaction{}, fmt.Errorf("reserve %s/%s: unexpected reply %v", agent, task, res)
	}
}

// Settle reconciles the open reservation for task against its actual cost.
func (r *Repo) Settle(
	ctx context.Context, agent, task string, actual, limit int64,
) (domain.Transaction, error) {
	now := r.now().UTC()
	date := now.Format(dateLayout)

	keys := []string{r.balanceKey(agent, date), r.logKey(agent), r.resvKey(agent, task), r.seqKey()}
	args := []string{
		agent, task,
		strconv.FormatInt(actual, 10),
		strconv.FormatInt(limit, 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		ttlSeconds(),
	}

	res, err := r.store.EvalScript(ctx, settleScript, keys, args)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("settle %s/%s: %w: %w", agent, task, domain.ErrStorageUnavailable, err)
	}

	switch code(res) {
	case "OK":
		id, balance, err := idAndBalance(res)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("settle %s/%s: %w", agent, task, err)
		}
		tx := domain.Transaction{
			ID:               id,
			AgentID:          agent,
			TaskID:           task,
			Kind:             domain.TxSettle,
			ActualUnits:      actual,
			ResultingBalance: balance,
			CreatedAt:        now,
		}
		if len(res) > 3 && res[3] == string(domain.TxRefund) {
			tx.Kind = domain.TxRefund
		}
		if len(res) > 4 {
			tx.EstimatedUnits, _ = strconv.ParseInt(res[4], 10, 64)
		}
		if len(res) > 5 {
			tx.SessionID = res[5]
		}
		return tx, nil
	case "UNKNOWN_TASK":
		return domain.Transaction{}, fmt.Errorf("settle %s/%s: %w", agent, task, domain.ErrUnknownTask)
	case "ALREADY_SETTLED":
		return domain.Transaction{}, fmt.Errorf("settle %s/%s: %w", agent, task, domain.ErrAlreadySettled)
	default:
		return domain.Transaction{}, fmt.Errorf("settle %s/%s: unexpected reply %v", agent, task, res)
	}
}

// Reset stamps the daily allowance grant for the current UTC day. The
// per-agent/date marker makes the operation idempotent: the second call for
// the same day reports reset=false. Spend already recorded for the day is
// preserved; the returned transaction carries the balance actually in effect.
func (r *Repo) Reset(ctx context.Context, agent string, limit int64) (domain.Transaction, bool, error) {
	now := r.now().UTC()
	date := now.Format(dateLayout)

	keys := []string{r.balanceKey(agent, date), r.logKey(agent), r.resetKey(agent, date), r.seqKey()}
	args := []string{
		agent,
		strconv.FormatInt(limit, 10),
		strconv.FormatInt(now.UnixMilli(), 10),
		ttlSeconds(),
	}

	res, err := r.store.EvalScript(ctx, resetScript, keys, args)
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("reset %s: %w: %w", agent, domain.ErrStorageUnavailable, err)
	}

	switch code(res) {
	case "OK":
		id, balance, err := idAndBalance(res)
		if err != nil {
			return domain.Transaction{}, false, fmt.Errorf("reset %s: %w", agent, err)
		}
		return domain.Transaction{
			ID:               id,
			AgentID:          agent,
			Kind:             domain.TxReset,
			ResultingBalance: balance,
			CreatedAt:        now,
		}, true, nil
	case "NOOP":
		return domain.Transaction{}, false, nil
	default:
		return domain.Transaction{}, false, fmt.Errorf("reset %s: unexpected reply %v", agent, res)
	}
}

// Balance returns the agent's available balance for the current UTC day.
// An absent balance key means no transaction happened today yet, so the full
// daily allowance applies.
func (r *Repo) Balance(ctx context.Context, agent string, limit int64) (int64, error) {
	date := r.now().UTC().Format(dateLayout)
	data, err := r.store.Get(ctx, r.balanceKey(agent, date))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return limit, nil
		}
		return 0, fmt.Errorf("balance %s: %w: %w", agent, domain.ErrStorageUnavailable, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("balance %s: parse: %w", agent, err)
	}
	return val, nil
}

// Transactions returns the agent's ledger entries in append order, newest
// window first limited to count entries when count > 0.
func (r *Repo) Transactions(ctx context.Context, agent string, count int) ([]domain.Transaction, error) {
	entries, err := r.store.XRange(ctx, r.logKey(agent), "-", "+", count)
	if err != nil {
		return nil, fmt.Errorf("transactions %s: %w: %w", agent, domain.ErrStorageUnavailable, err)
	}

	txs := make([]domain.Transaction, 0, len(entries))
	for _, e := range entries {
		txs = append(txs, parseTransaction(e.Fields))
	}
	return txs, nil
}

// OpenReservations scans for reservations that have not been settled yet.
// Used by the sweeper to refund abandoned reservations.
func (r *Repo) OpenReservations(ctx context.Context) ([]domain.Reservation, error) {
	pattern := r.prefix + "ledger:resv:*"
	keys, err := r.store.Scan(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("open reservations: %w: %w", domain.ErrStorageUnavailable, err)
	}

	var open []domain.Reservation
	for _, key := range keys {
		fields, err := r.store.HGetAll(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("open reservations %s: %w: %w", key, domain.ErrStorageUnavailable, err)
		}
		if len(fields) == 0 || fields["settled"] == "1" {
			continue
		}
		agent, task, ok := r.splitResvKey(key)
		if !ok {
			continue
		}
		open = append(open, parseReservation(agent, task, fields))
	}
	return open, nil
}

// splitResvKey recovers agent and task from a reservation key. Agent ids
// cannot contain ':'; task ids may.
func (r *Repo) splitResvKey(key string) (agent, task string, ok bool) {
	rest, found := strings.CutPrefix(key, r.prefix+"ledger:resv:")
	if !found {
		return "", "", false
	}
	agent, task, found = strings.Cut(rest, ":")
	if !found || agent == "" || task == "" {
		return "", "", false
	}
	return agent, task, true
}

func code(res []string) string {
	if len(res) == 0 {
		return ""
	}
	return res[0]
}

func idAndBalance(res []string) (int64, int64, error) {
	if len(res) < 3 {
		return 0, 0, fmt.Errorf("short script reply %v", res)
	}
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse id %q: %w", res[1], err)
	}
	balance, err := strconv.ParseInt(res[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse balance %q: %w", res[2], err)
	}
	return id, balance, nil
}

func ttlSeconds() string {
	return strconv.FormatInt(int64(keyTTL.Seconds()), 10)
}
