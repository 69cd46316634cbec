// Package httpx writes JSON and RFC7807 problem responses.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinels handlers wrap to pick a problem status.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream unavailable")
)

// ProblemDetail is an RFC7807 body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

var problems = []struct {
	err    error
	status int
	title  string
}{
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrUpstream, http.StatusBadGateway, "Upstream Error"},
}

// JSON sends data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends a problem document.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{Title: title, Status: status, Detail: detail})
}

// RespondError maps a wrapped sentinel to its problem status. Anything else is a 500 whose
// detail is withheld.
func RespondError(w http.ResponseWriter, err error) {
	for _, p := range problems {
		if errors.Is(err, p.err) {
			Problem(w, p.status, p.title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
