package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"calview/internal/apierr"
	appLog "calview/internal/log"
	"calview/internal/upstream"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: status, Message: msg})
}

// writeAPIError maps err onto a status: validation 400, upstream 4xx as
// is, read-only 405, anything else 502.
func writeAPIError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	if errors.Is(err, upstream.ErrReadOnly) {
		status = http.StatusMethodNotAllowed
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a request body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("invalid request body: %v", err)
	}
	return nil
}
