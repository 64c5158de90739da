// Package api — JSON response helpers for the gateway HTTP surface.
//
// Error bodies are always {"detail": "<string>"}; the detail string is
// suitable for operator display and never carries internals.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorDetail is the wire shape of every error response.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a {"detail": ...} error response.
func WriteError(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, ErrorDetail{Detail: detail})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, detail)
}

// WriteUnauthorized writes a 401 error response with a Bearer challenge.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteError(w, http.StatusUnauthorized, detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Not enough permissions"
	}
	WriteError(w, http.StatusForbidden, detail)
}

// WriteInternal writes a 500 error response. The err parameter is logged
// but never exposed to the client; detail carries the operator-safe text.
func WriteInternal(w http.ResponseWriter, detail string, err error) {
	if err != nil {
		slog.Error("internal server error", "error", err)
	}
	if detail == "" {
		detail = "An internal server error occurred."
	}
	WriteError(w, http.StatusInternalServerError, detail)
}
