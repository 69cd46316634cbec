package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

type sessionIDContextKey struct{}

// ContextWithSessionID tags ctx with a session ID for work that outlives the request, such as
// background fetches that still need the session's credential.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, id)
}

// SessionIDFromContext returns the session ID from ContextWithSessionID or, failing that, from
// the request session.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDContextKey{}).(string); ok && id != "" {
		return id
	}
	if sess := SessionFromContext(ctx); sess != nil {
		return sess.ID
	}
	return ""
}
