package domain

import "time"

// TxKind identifies the type of a ledger transaction.
type TxKind string

const (
	// TxReserve is a provisional debit made before an action's cost is known.
	TxReserve TxKind = "RESERVE"
	// TxSettle reconciles a reservation whose actual cost was >= the estimate.
	TxSettle TxKind = "SETTLE"
	// TxRefund reconciles a reservation whose actual cost was < the estimate.
	TxRefund TxKind = "REFUND"
	// TxReset stamps the daily allowance grant at the UTC day boundary.
	TxReset TxKind = "RESET"
)

// Valid reports whether k is a recognized transaction kind.
func (k TxKind) Valid() bool {
	switch k {
	case TxReserve, TxSettle, TxRefund, TxReset:
		return true
	}
	return false
}

// Transaction is one immutable entry in the append-only credit ledger.
// ResultingBalance is the balance snapshot after the transaction was applied,
// written at append time and never recomputed.
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

// Reservation is an open RESERVE awaiting settlement.
type Reservation struct {
	AgentID        string
	SessionID      string
	TaskID         string
	EstimatedUnits int64
	CreatedAt      time.Time
	Settled        bool
}

// Age returns how long the reservation has been open.
func (r Reservation) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}
