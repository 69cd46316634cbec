package shared

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenStore(t *testing.T, fallback string) (*TokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenStore(client, time.Hour, fallback), mr
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store, mr := newTestTokenStore(t, "")
	ctx := ContextWithSessionID(context.Background(), "sess-1")

	token, err := store.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.Set(context.Background(), "sess-1", " abc "))
	token, err = store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
	assert.Equal(t, time.Hour, mr.TTL("dashboard:token:sess-1"))

	require.NoError(t, store.Clear(context.Background(), "sess-1"))
	token, err = store.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestTokenStoreFallback(t *testing.T) {
	store, _ := newTestTokenStore(t, "service-token")

	token, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "service-token", token)

	require.NoError(t, store.Set(context.Background(), "sess-2", "user-token"))
	token, err = store.Token(ContextWithSessionID(context.Background(), "sess-2"))
	require.NoError(t, err)
	assert.Equal(t, "user-token", token)
}

func TestTokenStoreUsesRequestSession(t *testing.T) {
	store, _ := newTestTokenStore(t, "")
	require.NoError(t, store.Set(context.Background(), "sess-3", "tok"))

	ctx := ContextWithSession(context.Background(), &Session{ID: "sess-3"})
	token, err := store.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestTokenStoreRequiresSession(t *testing.T) {
	store, _ := newTestTokenStore(t, "")
	assert.ErrorIs(t, store.Set(context.Background(), "", "tok"), ErrSessionMissing)
	assert.ErrorIs(t, store.Clear(context.Background(), ""), ErrSessionMissing)
}
