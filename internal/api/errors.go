package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/kvstore/internal/infrastructure/database"
	"github.com/nerrad567/kvstore/internal/kvdb"
)

// Error represents a structured error response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeUnavailable = "unavailable"
	ErrCodeReadOnly    = "read_only"
	ErrCodeInternal    = "internal_error"
)

// retryAfterSeconds is sent with 503 responses for contention errors.
const retryAfterSeconds = 1

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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDBError maps a kvdb error to a response.
//
//	pool exhausted, write lock timeout, read blocked, engine busy → 503 + Retry-After
//	invalid argument, value type                                   → 400
//	key not found                                                  → 404
//	nested transaction, connection closing                         → 409
//	read-only database                                             → 403
//	anything else                                                  → 500
func (s *Server) writeDBError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("database request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r.Context()),
		)
	}

	body := Error{Status: status, Code: code, Message: err.Error()}
	if status == http.StatusServiceUnavailable {
		body.Retryable = true
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, string) {
	switch {
	case kvdb.IsRetryable(err), errors.Is(err, database.ErrBusy):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, kvdb.ErrInvalidArgument), errors.Is(err, kvdb.ErrValueType):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, kvdb.ErrKeyNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, kvdb.ErrNestedTransaction), errors.Is(err, kvdb.ErrConnectionClosing):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, database.ErrReadOnly):
		return http.StatusForbidden, ErrCodeReadOnly
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
