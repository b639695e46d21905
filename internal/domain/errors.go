package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance signals an admission denial; the caller may retry
	// later or reduce the requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownTask signals a settlement for a task with no reservation.
	ErrUnknownTask = errors.New("unknown task")
	// ErrAlreadySettled signals a second settlement for the same task.
	ErrAlreadySettled = errors.New("task already settled")
	// ErrTaskReserved signals a second reservation for the same task.
	ErrTaskReserved = errors.New("task already reserved")
	// ErrUnknownAgent signals an agent id outside the configured set.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrStorageUnavailable signals a transient store failure. Writes fail
	// closed: admission is denied rather than allowing unaccounted spend.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStaleManifest signals that a peer's manifest heartbeat is older than
	// the staleness threshold. Advisory only; never blocks local operation.
	ErrStaleManifest = errors.New("stale manifest peer")
	// ErrInvalidKind signals an unrecognized transaction or message kind.
	ErrInvalidKind = errors.New("invalid kind")
	// ErrInvalidCursor signals an unparsable poll cursor.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// InsufficientBalanceError wraps ErrInsufficientBalance with the balance
// observed at denial time.
type InsufficientBalanceError struct {
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: balance %d, requested %d", ErrInsufficientBalance.Error(), e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// NewInsufficientBalance creates an admission denial error.
func NewInsufficientBalance(balance, requested int64) error {
	return &InsufficientBalanceError{Balance: balance, Requested: requested}
}
