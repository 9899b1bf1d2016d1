package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kilnmq/kiln/internal/broker"
	"github.com/kilnmq/kiln/internal/group"
	"github.com/kilnmq/kiln/internal/segment"
	"github.com/kilnmq/kiln/internal/topic"
)

// Helper functions for common HTTP responses

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeJSONStatus writes a JSON response with an explicit status code.
func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps broker error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, topic.ErrNotFound),
		errors.Is(err, group.ErrUnknownGroup),
		errors.Is(err, group.ErrUnknownMember):
		return http.StatusNotFound
	case errors.Is(err, topic.ErrAlreadyExists),
		errors.Is(err, broker.ErrSequenceGap),
		errors.Is(err, group.ErrStaleGeneration),
		errors.Is(err, group.ErrRebalanceInProgress):
		return http.StatusConflict
	case errors.Is(err, segment.ErrOffsetOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, topic.ErrInvalidName),
		errors.Is(err, topic.ErrNoPartition),
		errors.Is(err, broker.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, segment.ErrStorageFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, segment.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// requirePost rejects non-POST methods, returning false when it already
// answered.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// decodeBody parses a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
