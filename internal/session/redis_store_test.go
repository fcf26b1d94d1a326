package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore("not a url")
	require.ErrorContains(t, err, "parse redis url")
}

func TestSaveIndexesTokenUnderUser(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRefreshSession(ctx, "h1", "u1", time.Now().Add(time.Hour)))
	require.NoError(t, store.SaveRefreshSession(ctx, "h2", "u1", time.Now().Add(2*time.Hour)))

	members, err := mr.Members("refresh:user:u1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"h1", "h2"}, members)

	raw, err := mr.Get("refresh:h1")
	require.NoError(t, err)
	var data TokenData
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	require.Equal(t, "u1", data.UserID)
	require.False(t, data.CreatedAt.IsZero())

	// The index lives as long as the newest token.
	require.InDelta(t, (2 * time.Hour).Seconds(), mr.TTL("refresh:user:u1").Seconds(), 5)

	userID, err := store.LookupRefreshSession(ctx, "h2")
	require.NoError(t, err)
	require.Equal(t, "u1", userID)
}

func TestSaveRejectsExpiredToken(t *testing.T) {
	store, mr := newTestStore(t)

	err := store.SaveRefreshSession(context.Background(), "h1", "u1", time.Now().Add(-time.Second))
	require.ErrorContains(t, err, "already expired")
	require.False(t, mr.Exists("refresh:h1"))
	require.False(t, mr.Exists("refresh:user:u1"))
}

func TestLookupAfterExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRefreshSession(ctx, "h1", "u1", time.Now().Add(time.Second)))
	mr.FastForward(2 * time.Second)

	_, err := store.LookupRefreshSession(ctx, "h1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.False(t, mr.Exists("refresh:user:u1"))
}

func TestLookupCorruptEntry(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("refresh:h1", "{"))

	_, err := store.LookupRefreshSession(context.Background(), "h1")
	require.ErrorContains(t, err, "unmarshal token data")
}

func TestRevokeRemovesHashFromUserIndex(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	require.NoError(t, store.SaveRefreshSession(ctx, "h1", "u1", expiresAt))
	require.NoError(t, store.SaveRefreshSession(ctx, "h2", "u1", expiresAt))

	require.NoError(t, store.RevokeRefreshSession(ctx, "h1"))

	require.False(t, mr.Exists("refresh:h1"))
	members, err := mr.Members("refresh:user:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"h2"}, members)

	_, err = store.LookupRefreshSession(ctx, "h1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	userID, err := store.LookupRefreshSession(ctx, "h2")
	require.NoError(t, err)
	require.Equal(t, "u1", userID)
}

func TestRevokeUnknownTokenIsNoop(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRefreshSession(ctx, "h1", "u1", time.Now().Add(time.Hour)))

	require.NoError(t, store.RevokeRefreshSession(ctx, "missing"))

	isMember, err := mr.IsMember("refresh:user:u1", "h1")
	require.NoError(t, err)
	require.True(t, isMember)
}

func TestRevokeUserSessionsClearsOnlyThatUser(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	for _, hash := range []string{"a", "b"} {
		require.NoError(t, store.SaveRefreshSession(ctx, hash, "u1", expiresAt))
	}
	require.NoError(t, store.SaveRefreshSession(ctx, "c", "u2", expiresAt))

	require.NoError(t, store.RevokeUserSessions(ctx, "u1"))

	for _, key := range []string{"refresh:a", "refresh:b", "refresh:user:u1"} {
		require.False(t, mr.Exists(key), key)
	}
	_, err := store.LookupRefreshSession(ctx, "a")
	require.ErrorIs(t, err, ErrSessionNotFound)

	userID, err := store.LookupRefreshSession(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "u2", userID)
	isMember, err := mr.IsMember("refresh:user:u2", "c")
	require.NoError(t, err)
	require.True(t, isMember)
}

func TestRevokeUserSessionsWithoutTokens(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.RevokeUserSessions(context.Background(), "nobody"))
}

func TestPingReportsOutage(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	mr.SetError("LOADING")
	require.Error(t, store.Ping(ctx))
}
