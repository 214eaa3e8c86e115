package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Operation string `json:"operation,omitempty"`
	Path      string `json:"path,omitempty"`
}

// writeJSON renders v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps a core error onto its HTTP status and JSON body. Internal
// errors are logged but never echo their cause to the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := verrors.HTTPStatus(err)

	body := errorBody{Error: err.Error()}
	var opErr *verrors.OpError
	if errors.As(err, &opErr) {
		body.Operation = opErr.Op
		body.Path = opErr.Path
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "operation", body.Operation, "path", body.Path, "error", err)
		body.Error = "internal error"
	}

	writeJSON(w, status, body)
}

// decodeJSON reads a request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return verrors.E("http.decode", "", verrors.KindInvalid, err)
	}
	return nil
}
