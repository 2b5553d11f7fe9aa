package stores

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
)

const testUserKey = "550e8400-e29b-41d4-a716-446655440000"

func newTestCache(t *testing.T) *EphemeralCache {
	t.Helper()
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		JSONFormat:      true,
		DefaultLevel:    slog.LevelError,
	})
	require.NoError(t, err)

	cache, err := NewEphemeralCache(logger)
	require.NoError(t, err)
	return cache
}

func TestUserMetaRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	assert.Nil(t, cache.GetUserMeta(testUserKey))

	meta := &domain.UserMeta{UserKey: testUserKey, TotalCount: 42}
	cache.SetUserMeta(testUserKey, meta)

	got := cache.GetUserMeta(testUserKey)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.TotalCount)
}

func TestCollectionHashRoundTrip(t *testing.T) {
	cache := newTestCache(t)

	assert.Empty(t, cache.GetCollectionHash(testUserKey))
	cache.SetCollectionHash(testUserKey, "abc123")
	assert.Equal(t, "abc123", cache.GetCollectionHash(testUserKey))
}

func TestDiffSessionExpiry(t *testing.T) {
	cache := newTestCache(t)

	live := &domain.DiffSession{
		SessionID: "diff_1_live",
		UserKey:   testUserKey,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	cache.SetDiffSession(live)
	assert.NotNil(t, cache.GetDiffSession("diff_1_live"))

	// An already-expired session is never cached.
	dead := &domain.DiffSession{
		SessionID: "diff_2_dead",
		UserKey:   testUserKey,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	cache.SetDiffSession(dead)
	assert.Nil(t, cache.GetDiffSession("diff_2_dead"))
}

func TestClearUserCache(t *testing.T) {
	cache := newTestCache(t)
	other := "950e8400-e29b-41d4-a716-446655440000"

	cache.SetUserMeta(testUserKey, &domain.UserMeta{UserKey: testUserKey})
	cache.SetCollectionHash(testUserKey, "abc")
	cache.SetDiffSession(&domain.DiffSession{
		SessionID: "diff_1_mine",
		UserKey:   testUserKey,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	cache.SetDiffSession(&domain.DiffSession{
		SessionID: "diff_2_other",
		UserKey:   other,
		ExpiresAt: time.Now().Add(time.Minute),
	})

	cache.ClearUserCache(testUserKey)

	assert.Nil(t, cache.GetUserMeta(testUserKey))
	assert.Empty(t, cache.GetCollectionHash(testUserKey))
	assert.Nil(t, cache.GetDiffSession("diff_1_mine"))
	assert.NotNil(t, cache.GetDiffSession("diff_2_other"), "other users' sessions survive")
}

func TestStatsCounters(t *testing.T) {
	cache := newTestCache(t)

	cache.GetUserMeta(testUserKey) // miss
	cache.SetUserMeta(testUserKey, &domain.UserMeta{UserKey: testUserKey})
	cache.GetUserMeta(testUserKey) // hit

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Equal(t, 0.5, stats["hitRatio"])
	assert.Equal(t, true, stats["enabled"])
}

func TestPurge(t *testing.T) {
	cache := newTestCache(t)
	cache.SetUserMeta(testUserKey, &domain.UserMeta{UserKey: testUserKey})
	cache.Purge()
	assert.Nil(t, cache.GetUserMeta(testUserKey))
}
