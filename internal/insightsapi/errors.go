package insightsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures talking to the Insights API.
type Kind int

// KindNone marks a successful call when reported to an Observer.
const KindNone Kind = -1

// Error kinds.
const (
	KindUnknown Kind = iota
	KindClient
	KindAuthExpired
	KindServer
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindClient:
		return "client_error"
	case KindAuthExpired:
		return "auth_expired"
	case KindServer:
		return "server_error"
	case KindNetwork:
		return "network_error"
	default:
		return "unknown_error"
	}
}

// NetworkErrorMessage is used when no response was received at all.
const NetworkErrorMessage = "Network error - no response received"

const fallbackMessage = "An unexpected error occurred."

// Error is returned for every failed Insights API call that reached the transport.
type Error struct {
	Kind       Kind
	Status     int
	StatusText string
	Body       []byte
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fallbackMessage
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether retrying cannot help (any 4xx).
func (e *Error) Permanent() bool {
	return e.Status >= 400 && e.Status < 500
}

func statusError(status int, statusText string, body []byte) *Error {
	if statusText == "" {
		statusText = http.StatusText(status)
	}
	return &Error{
		Kind:       kindForStatus(status),
		Status:     status,
		StatusText: statusText,
		Body:       body,
		Message:    fmt.Sprintf("API Error: %d %s", status, statusText),
	}
}

func networkError(err error) *Error {
	return &Error{
		Kind:       KindNetwork,
		StatusText: "Network Error",
		Message:    NetworkErrorMessage,
		Err:        err,
	}
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case status >= 400 && status < 500:
		return KindClient
	case status >= 500 && status < 600:
		return KindServer
	default:
		return KindUnknown
	}
}

// KindOf returns the classification of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, 0 when there is none.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsAuthExpired reports whether err means the stored credential is no longer valid.
func IsAuthExpired(err error) bool {
	return KindOf(err) == KindAuthExpired
}

// IsPermanent reports whether err is a client error that must not be retried.
func IsPermanent(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Permanent()
	}
	return false
}

var statusMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request. Please check your input and try again.",
	http.StatusUnauthorized:        "You are not authorized to perform this action. Please log in again.",
	http.StatusForbidden:           "Access denied. You do not have permission to perform this action.",
	http.StatusNotFound:            "The requested resource was not found.",
	http.StatusUnprocessableEntity: "Validation error. Please check your input and try again.",
	http.StatusTooManyRequests:     "Too many requests. Please wait a moment and try again.",
	http.StatusInternalServerError: "Server error. Please try again later.",
	http.StatusBadGateway:          "Bad gateway. Please try again later.",
	http.StatusServiceUnavailable:  "Service unavailable. Please try again later.",
	http.StatusGatewayTimeout:      "Gateway timeout. Please try again later.",
}

// FormatError turns err into a sentence suitable for end users.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if msg, ok := statusMessages[apiErr.Status]; ok {
			return msg
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return fallbackMessage
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NetworkErrorMessage
	case errors.Is(err, context.Canceled):
		return fallbackMessage
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallbackMessage
}
