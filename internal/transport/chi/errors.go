package chi

import (
	"encoding/json"
	"net/http"
)

// errorCode identifies an API error class in the response envelope.
type errorCode string

const (
	codeBadRequest          errorCode = "bad_request"
	codeUnauthorized        errorCode = "unauthorized"
	codeInsufficientBalance errorCode = "insufficient_balance"
	codeUnknownTask         errorCode = "unknown_task"
	codeAlreadySettled      errorCode = "already_settled"
	codeTaskReserved        errorCode = "task_reserved"
	codeUnknownAgent        errorCode = "unknown_agent"
	codeStorageUnavailable  errorCode = "storage_unavailable"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
