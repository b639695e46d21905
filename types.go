package credex

import "time"

// TxKind classifies a ledger transaction.
type TxKind string

const (
	// TxReserve debits an estimate before an action runs.
	TxReserve TxKind = "RESERVE"
	// TxSettle reconciles a reservation whose actual cost met or exceeded the estimate.
	TxSettle TxKind = "SETTLE"
	// TxRefund reconciles a reservation whose actual cost came in under the estimate.
	TxRefund TxKind = "REFUND"
	// TxReset marks the daily allowance grant.
	TxReset TxKind = "RESET"
)

// Transaction is one append-only ledger entry.
type Transaction struct {
	ID               int64
	AgentID          string
	SessionID        string
	TaskID           string
	Kind             TxKind
	EstimatedUnits   int64
	ActualUnits      int64
	ResultingBalance int64
	CreatedAt        time.Time
}

// BalanceStatus describes an agent's budget position.
type BalanceStatus struct {
	AgentID    string
	Balance    int64
	DailyLimit int64
	Used       int64
	UsageRatio float64
	Warning    bool
	Exhausted  bool
	// Degraded marks a cached value served while storage was unreachable.
	Degraded bool
	ResetsAt time.Time
}

// MessageKind classifies a channel message.
type MessageKind string

const (
	// KindInsight shares an observation with the peer.
	KindInsight MessageKind = "insight"
	// KindWarning flags a budget or coordination hazard.
	KindWarning MessageKind = "warning"
	// KindCoordinationRequest asks the peer to act.
	KindCoordinationRequest MessageKind = "coordination_request"
)

// Broadcast addresses a message to every agent.
const Broadcast = ""

// Message is one entry in the cross-agent channel.
type Message struct {
	ID        string
	From      string
	To        string
	Kind      MessageKind
	Title     string
	Body      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// AgentStatus is one agent's row in the coordination manifest.
type AgentStatus struct {
	AgentID       string
	LastCommitRef string
	DailyUsed     int64
	DailyLimit    int64
	LastHeartbeat time.Time
	Stale         bool
}

// Manifest is the shared coordination snapshot.
type Manifest struct {
	CoreVersion   string
	SchemaVersion string
	LastResetDate string
	Agents        map[string]AgentStatus
}
