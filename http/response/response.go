// Package apxresp writes consistent JSON responses for the agent's
// optional local status surface (§3 of the domain-stack notes: GET
// /status, /healthz).
package apxresp

import (
	"encoding/json"
	"net/http"

	"mitchell-agent/errors"
)

// RespondJSON writes v as a JSON body with the given status code.
func RespondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RespondMessage writes {"message": msg} with the given status code.
func RespondMessage(w http.ResponseWriter, status int, msg string) {
	RespondJSON(w, status, map[string]string{"message": msg})
}

// RespondError writes an *errors.Error using its mapped HTTP status and
// its Kind/Message as the body.
func RespondError(w http.ResponseWriter, err *errors.Error) {
	RespondJSON(w, err.HTTPStatus(), map[string]string{
		"error": err.Error(),
	})
}
