package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neverdownhq/neverdown/internal/fault"
)

// errorEnvelope is the normalised error body every handler returns.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a fault code onto an HTTP status and renders the envelope.
// Errors without a domain code are reported as internal and never leak their
// message to the caller.
func writeError(w http.ResponseWriter, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{
			Error:   "internal",
			Message: "internal server error",
		})
		return
	}
	writeJSON(w, statusFor(fe.Code), errorEnvelope{
		Error:   string(fe.Code),
		Message: fe.Message,
		Details: fe.Details,
	})
}

func writeErrorMsg(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{Error: kind, Message: message})
}

func statusFor(code fault.Code) int {
	switch code {
	case fault.CodeIncidentNotFound, fault.CodePatchNotFound:
		return http.StatusNotFound
	case fault.CodeUnauthorizedRepo:
		return http.StatusForbidden
	case fault.CodeTimeout:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
