package shared

import "errors"

var (
	// ErrSessionMissing is returned when a token operation has no session to bind to.
	ErrSessionMissing = errors.New("session missing")
	// ErrCSRFTokenMissing means the request carried no token.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch means the token was not issued for this session.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
