package credex

import "github.com/kailas-cloud/credex/internal/domain"

// Sentinel errors returned by Client operations. Match with errors.Is.
var (
	// ErrInsufficientBalance means the estimate exceeds the remaining balance.
	ErrInsufficientBalance = domain.ErrInsufficientBalance
	// ErrUnknownTask means no reservation exists for the task id.
	ErrUnknownTask = domain.ErrUnknownTask
	// ErrAlreadySettled means the reservation was already reconciled.
	ErrAlreadySettled = domain.ErrAlreadySettled
	// ErrTaskReserved means an open reservation already holds the task id.
	ErrTaskReserved = domain.ErrTaskReserved
	// ErrUnknownAgent means the agent id is not in the configured set.
	ErrUnknownAgent = domain.ErrUnknownAgent
	// ErrStorageUnavailable means the database could not be reached.
	ErrStorageUnavailable = domain.ErrStorageUnavailable
)
