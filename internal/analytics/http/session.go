package analytichttp

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/training-insights/dashboard/internal/filters"
	"github.com/training-insights/dashboard/internal/shared"
)

const (
	pendingSessionKey = "dashboard.pending"
	// appliedSessionKey records which applied filter the pending edit was made against.
	appliedSessionKey = "dashboard.applied"
)

// redirectLocation records the query a Store commits; the handler turns it into a redirect and
// the browser performs the navigation.
type redirectLocation struct {
	query url.Values
	set   bool
}

func (l *redirectLocation) Replace(q url.Values) {
	l.query = q
	l.set = true
}

func (l *redirectLocation) URL(path string) string {
	if encoded := l.query.Encode(); encoded != "" {
		return path + "?" + encoded
	}
	return path
}

// restorePending resumes the edit saved in the session when it was made against the filter
// now in the URL. Otherwise the URL changed underneath it and the edit is dropped.
func restorePending(sess *shared.Session, store *filters.Store) {
	if sess == nil {
		return
	}
	raw := sess.Get(pendingSessionKey)
	if raw == "" {
		return
	}
	if sess.Get(appliedSessionKey) != store.Applied().Encode() {
		forgetPending(sess)
		return
	}
	var pending filters.Options
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		forgetPending(sess)
		return
	}
	store.Restore(pending)
}

func savePending(sess *shared.Session, store *filters.Store) {
	if sess == nil {
		return
	}
	if !store.HasPendingChanges() {
		forgetPending(sess)
		return
	}
	data, err := json.Marshal(store.Pending())
	if err != nil {
		return
	}
	sess.Set(pendingSessionKey, string(data))
	sess.Set(appliedSessionKey, store.Applied().Encode())
}

func forgetPending(sess *shared.Session) {
	if sess == nil || sess.Get(pendingSessionKey) == "" {
		return
	}
	sess.Delete(pendingSessionKey)
	sess.Delete(appliedSessionKey)
}

func sessionID(sess *shared.Session) string {
	if sess == nil || sess.ID == "" {
		return "anonymous"
	}
	return sess.ID
}

// safeNext keeps redirects on this host.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}
