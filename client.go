// Package credex is an atomic credit ledger and coordination engine for
// agents sharing a daily budget in Redis or Valkey.
package credex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/credex/internal/db"
	dbRedis "github.com/kailas-cloud/credex/internal/db/redis"
	"github.com/kailas-cloud/credex/internal/domain"
	channelrepo "github.com/kailas-cloud/credex/internal/repository/channel"
	ledgerrepo "github.com/kailas-cloud/credex/internal/repository/ledger"
	manifestrepo "github.com/kailas-cloud/credex/internal/repository/manifest"
	channeluc "github.com/kailas-cloud/credex/internal/usecase/channel"
	guarduc "github.com/kailas-cloud/credex/internal/usecase/guard"
	ledgeruc "github.com/kailas-cloud/credex/internal/usecase/ledger"
	manifestuc "github.com/kailas-cloud/credex/internal/usecase/manifest"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultKeyPrefix        = "credex:"
	defaultStaleness        = 15 * time.Minute
)

// Client is the credex SDK entry point.
type Client struct {
	store       db.Store
	ledgerSvc   *ledgeruc.Service
	channelSvc  *channeluc.Service
	manifestSvc *manifestuc.Service
	guard       *guarduc.Guard
}

// New creates a credex Client and connects to the database.
func New(opts ...Option) (*Client, error) {
	limits := domain.DefaultLimits()
	cfg := &clientConfig{
		keyPrefix:        defaultKeyPrefix,
		dailyLimit:       limits.DailyLimit,
		warningThreshold: limits.WarningThreshold,
		overageTolerance: limits.OverageTolerance,
	}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("credex: database address required (use WithRedis or WithValkey)")
	}

	// Valkey speaks the same protocol; rueidis covers both drivers.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("credex: create %s store: %w", cfg.driver, err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("credex: database not ready: %w", err)
	}

	return wireClient(store, cfg), nil
}

func wireClient(store db.Store, cfg *clientConfig) *Client {
	ledgerRepo := ledgerrepo.New(store, cfg.keyPrefix)
	manifestRepo := manifestrepo.New(store, cfg.keyPrefix)
	channelRepo := channelrepo.New(store, cfg.keyPrefix)

	channelSvc := channeluc.New(channelRepo, cfg.logger)
	if cfg.pollLimit > 0 {
		channelSvc = channelSvc.WithPollLimit(cfg.pollLimit)
	}

	limits := domain.Limits{
		DailyLimit:       cfg.dailyLimit,
		WarningThreshold: cfg.warningThreshold,
		OverageTolerance: cfg.overageTolerance,
	}
	ledgerSvc := ledgeruc.New(ledgerRepo, limits, cfg.logger).
		WithNotifier(channelSvc)
	if len(cfg.agents) > 0 {
		ledgerSvc = ledgerSvc.WithAgents(cfg.agents)
	}

	manifestSvc := manifestuc.New(manifestRepo, ledgerSvc, defaultStaleness, cfg.logger)

	return &Client{
		store:       store,
		ledgerSvc:   ledgerSvc,
		channelSvc:  channelSvc,
		manifestSvc: manifestSvc,
		guard:       guarduc.New(ledgerSvc, cfg.logger),
	}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Reserve debits the estimated cost against the agent's remaining balance.
// Returns ErrInsufficientBalance when the estimate exceeds it.
func (c *Client) Reserve(
	ctx context.Context, agent, session, task string, estimated int64,
) (Transaction, error) {
	tx, err := c.ledgerSvc.Reserve(ctx, agent, session, task, estimated)
	if err != nil {
		return Transaction{}, err
	}
	return fromTransaction(tx), nil
}

// Settle reconciles a reservation to its actual cost, refunding or charging
// the difference.
func (c *Client) Settle(ctx context.Context, agent, task string, actual int64) (Transaction, error) {
	tx, err := c.ledgerSvc.Settle(ctx, agent, task, actual)
	if err != nil {
		return Transaction{}, err
	}
	return fromTransaction(tx), nil
}

// Reset stamps the agent's daily allowance grant. Spend already recorded for
// the day stays deducted. Returns false when today's reset already happened.
func (c *Client) Reset(ctx context.Context, agent string) (Transaction, bool, error) {
	tx, reset, err := c.ledgerSvc.Reset(ctx, agent)
	if err != nil {
		return Transaction{}, false, err
	}
	return fromTransaction(tx), reset, nil
}

// Status reports the agent's budget position. When storage is unreachable a
// cached value is returned with Degraded set.
func (c *Client) Status(ctx context.Context, agent string) (BalanceStatus, error) {
	st, err := c.ledgerSvc.Status(ctx, agent)
	if err != nil {
		return BalanceStatus{}, err
	}
	return fromBalanceStatus(st), nil
}

// Transactions returns the agent's most recent ledger entries, oldest first.
func (c *Client) Transactions(ctx context.Context, agent string, limit int) ([]Transaction, error) {
	txs, err := c.ledgerSvc.Transactions(ctx, agent, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[i] = fromTransaction(tx)
	}
	return out, nil
}

// Estimator prices the action a Guard call is about to admit.
type Estimator func(ctx context.Context) (int64, error)

// Guard admits an action through the ledger and returns a Reservation that
// must be settled or aborted exactly once. An empty task id gets a generated
// one.
func (c *Client) Guard(
	ctx context.Context, agent, session, task string, estimate Estimator,
) (*Reservation, error) {
	res, err := c.guard.Guard(ctx, agent, session, task, guarduc.Estimator(estimate))
	if err != nil {
		return nil, err
	}
	return &Reservation{inner: res, Tx: fromTransaction(res.Tx)}, nil
}

// Reservation is an admitted action awaiting settlement.
type Reservation struct {
	inner *guarduc.Reservation
	// Tx is the RESERVE ledger entry that admitted the action.
	Tx Transaction
}

// Settle reconciles the reservation to the action's actual cost.
func (r *Reservation) Settle(ctx context.Context, actual int64) (Transaction, error) {
	tx, err := r.inner.Settle(ctx, actual)
	if err != nil {
		return Transaction{}, err
	}
	return fromTransaction(tx), nil
}

// Abort refunds the full estimate for an action that never ran.
func (r *Reservation) Abort(ctx context.Context) error {
	return r.inner.Abort(ctx)
}

// PublishManifest writes the agent's coordination fields (commit ref,
// usage, heartbeat) to the shared manifest.
func (c *Client) PublishManifest(ctx context.Context, agent, commitRef string) error {
	return c.manifestSvc.Publish(ctx, agent, commitRef)
}

// Manifest reads the shared coordination snapshot. Peers whose heartbeat
// lapsed are marked stale, never an error.
func (c *Client) Manifest(ctx context.Context) (Manifest, error) {
	snap, err := c.manifestSvc.Snapshot(ctx)
	if err != nil {
		return Manifest{}, err
	}
	return fromManifest(snap), nil
}

// Send appends a message to the cross-agent channel and returns its id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	return c.channelSvc.Send(ctx, toMessage(msg))
}

// Poll returns messages addressed to the agent after the given cursor, in
// send order, along with the cursor to resume from. An empty cursor starts
// from the beginning.
func (c *Client) Poll(ctx context.Context, agent, cursor string, limit int) ([]Message, string, error) {
	result, err := c.channelSvc.Poll(ctx, agent, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]Message, len(result.Messages))
	for i, msg := range result.Messages {
		out[i] = fromMessage(msg)
	}
	return out, result.Cursor, nil
}

// Acknowledge records that the agent has read the message. Idempotent.
func (c *Client) Acknowledge(ctx context.Context, messageID, agent string) error {
	return c.channelSvc.Acknowledge(ctx, messageID, agent)
}
