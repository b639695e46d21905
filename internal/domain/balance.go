package domain

import "time"

// BalanceStatus is a point-in-time view of one agent's budget.
type BalanceStatus struct {
	AgentID    string
	Balance    int64
	DailyLimit int64
	Used       int64
	UsageRatio float64
	Warning    bool // usage crossed the warning threshold
	Exhausted  bool // balance is zero
	Degraded   bool // served from a process-local cache, store unreachable
	ResetsAt   time.Time
}

// Limits holds the budget policy for an agent.
type Limits struct {
	DailyLimit       int64
	WarningThreshold float64
	OverageTolerance int64
}

// DefaultLimits returns the stock budget policy.
func DefaultLimits() Limits {
	return Limits{
		DailyLimit:       300000,
		WarningThreshold: 0.8,
		OverageTolerance: 0,
	}
}
