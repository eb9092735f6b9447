package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/device-ledger/internal/audit"
	"github.com/nerrad567/device-ledger/internal/ledger"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeLedgerError maps a registry error to its HTTP status.
// It returns the audit outcome for the failure.
func writeLedgerError(w http.ResponseWriter, err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidPrincipal):
		writeBadRequest(w, err.Error())
	case errors.Is(err, ledger.ErrNotOwner):
		writeForbidden(w, "caller is not the device owner")
	case errors.Is(err, ledger.ErrDeviceDoesNotExist):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "device does not exist")
	case errors.Is(err, ledger.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
	default:
		writeInternalError(w, "ledger operation failed")
		return audit.OutcomeError
	}
	return audit.OutcomeRejected
}
