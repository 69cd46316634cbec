package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sid", time.Hour, false), mr
}

func TestSessionRoundTripKeepsFlashUntilPopped(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	sess.Set("dashboard.pending", `{"department":"Sales"}`)
	sess.AddFlash(FlashMessage{Kind: "success", Message: "saved"})

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.True(t, mr.Exists(sessionKeyPrefix+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, `{"department":"Sales"}`, loaded.Get("dashboard.pending"))
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "saved", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestSessionCommitSlidesTTL(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))

	mr.FastForward(30 * time.Minute)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	assert.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+sess.ID))
}

func TestSessionExpiredCookieStartsFresh(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "gone"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "gone", sess.ID)
}

func TestSessionDestroyClearsCookie(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))

	sm.Destroy(sess)
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	assert.False(t, mr.Exists(sessionKeyPrefix+sess.ID))
	assert.Equal(t, -1, rr.Result().Cookies()[0].MaxAge)
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	m := NewCSRFManager("secret")
	ctx := context.Background()
	sess := &Session{ID: "a"}

	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.NoError(t, m.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, token+"x"), ErrCSRFTokenMismatch)

	// A token copied into another session does not verify there.
	other := &Session{ID: "b"}
	other.Set(CSRFSessionKey, token)
	assert.ErrorIs(t, m.VerifyToken(ctx, other, token), ErrCSRFTokenMismatch)
}
