// Package stores provides the ephemeral LRU cache fronting the persistence
// layer. Every entry is advisory: a miss, an eviction, or a full purge only
// costs a database round trip, never correctness.
package stores

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

// entry wraps a cached value with its expiry deadline.
type entry struct {
	value     any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// EphemeralCache is a size-bounded, TTL-aware cache keyed by typed prefixes:
// user_meta:<userKey>, diff_session:<sessionId>, collection_hash:<userKey>.
type EphemeralCache struct {
	cache   *lru.Cache
	enabled bool
	ttl     time.Duration
	logger  *logging.ChanneledLogger

	mu        sync.Mutex
	hits      int64
	misses    int64
	evictions int64
}

// NewEphemeralCache creates the cache sized and enabled per configuration.
func NewEphemeralCache(logger *logging.ChanneledLogger) (*EphemeralCache, error) {
	ec := &EphemeralCache{
		enabled: config.CacheEnabled,
		ttl:     config.UserMetaTTL,
		logger:  logger,
	}

	if !ec.enabled {
		logger.Cache().Info("Ephemeral cache disabled by configuration")
		return ec, nil
	}

	cache, err := lru.NewWithEvict(config.CacheSize, func(key, _ any) {
		ec.mu.Lock()
		ec.evictions++
		ec.mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	ec.cache = cache

	logger.Cache().Info("Ephemeral cache initialized", "size", config.CacheSize, "ttl", ec.ttl)
	return ec, nil
}

func userMetaKey(userKey string) string       { return "user_meta:" + userKey }
func diffSessionKey(sessionID string) string  { return "diff_session:" + sessionID }
func collectionHashKey(userKey string) string { return "collection_hash:" + userKey }

// GetUserMeta returns the cached meta record or nil on a miss.
func (ec *EphemeralCache) GetUserMeta(userKey string) *domain.UserMeta {
	value := ec.get(userMetaKey(userKey))
	if value == nil {
		return nil
	}
	meta, ok := value.(*domain.UserMeta)
	if !ok {
		return nil
	}
	return meta
}

// SetUserMeta caches the meta record with the configured TTL.
func (ec *EphemeralCache) SetUserMeta(userKey string, meta *domain.UserMeta) {
	ec.set(userMetaKey(userKey), meta, ec.ttl)
}

// GetDiffSession returns the cached session or nil. Expired sessions are
// dropped on read so the cache never outlives the store's expiry.
func (ec *EphemeralCache) GetDiffSession(sessionID string) *domain.DiffSession {
	value := ec.get(diffSessionKey(sessionID))
	if value == nil {
		return nil
	}
	session, ok := value.(*domain.DiffSession)
	if !ok {
		return nil
	}
	if session.Expired(time.Now()) {
		ec.remove(diffSessionKey(sessionID))
		return nil
	}
	return session
}

// SetDiffSession caches the session until its own expiry.
func (ec *EphemeralCache) SetDiffSession(session *domain.DiffSession) {
	if session == nil {
		return
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	ec.set(diffSessionKey(session.SessionID), session, ttl)
}

// GetCollectionHash returns the cached hash or empty string on a miss.
func (ec *EphemeralCache) GetCollectionHash(userKey string) string {
	value := ec.get(collectionHashKey(userKey))
	if value == nil {
		return ""
	}
	hash, _ := value.(string)
	return hash
}

// SetCollectionHash caches the hash with the configured TTL.
func (ec *EphemeralCache) SetCollectionHash(userKey, hash string) {
	ec.set(collectionHashKey(userKey), hash, ec.ttl)
}

// ClearUserCache removes every cached entry belonging to the user, including
// any diff sessions keyed by session ID.
func (ec *EphemeralCache) ClearUserCache(userKey string) {
	if !ec.enabled || ec.cache == nil {
		return
	}

	ec.cache.Remove(userMetaKey(userKey))
	ec.cache.Remove(collectionHashKey(userKey))

	for _, rawKey := range ec.cache.Keys() {
		key, ok := rawKey.(string)
		if !ok || !strings.HasPrefix(key, "diff_session:") {
			continue
		}
		raw, ok := ec.cache.Peek(rawKey)
		if !ok {
			continue
		}
		cached, ok := raw.(*entry)
		if !ok {
			continue
		}
		if session, ok := cached.value.(*domain.DiffSession); ok && session.UserKey == userKey {
			ec.cache.Remove(rawKey)
		}
	}

	ec.logger.Cache().Debug("Cleared user cache", "userKey", userKey)
}

// Purge drops every cached entry.
func (ec *EphemeralCache) Purge() {
	if !ec.enabled || ec.cache == nil {
		return
	}
	ec.cache.Purge()
	ec.logger.Cache().Info("Ephemeral cache purged")
}

// Stats returns cache counters for the service stats surface.
func (ec *EphemeralCache) Stats() map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	size := 0
	if ec.cache != nil {
		size = ec.cache.Len()
	}

	total := ec.hits + ec.misses
	hitRatio := 0.0
	if total > 0 {
		hitRatio = float64(ec.hits) / float64(total)
	}

	return map[string]any{
		"enabled":   ec.enabled,
		"size":      size,
		"maxSize":   config.CacheSize,
		"hits":      ec.hits,
		"misses":    ec.misses,
		"evictions": ec.evictions,
		"hitRatio":  hitRatio,
	}
}

func (ec *EphemeralCache) get(key string) any {
	if !ec.enabled || ec.cache == nil {
		return nil
	}

	raw, ok := ec.cache.Get(key)
	if !ok {
		ec.mu.Lock()
		ec.misses++
		ec.mu.Unlock()
		return nil
	}

	cached, ok := raw.(*entry)
	if !ok || cached.expired(time.Now()) {
		ec.cache.Remove(key)
		ec.mu.Lock()
		ec.misses++
		ec.mu.Unlock()
		return nil
	}

	ec.mu.Lock()
	ec.hits++
	ec.mu.Unlock()
	return cached.value
}

func (ec *EphemeralCache) set(key string, value any, ttl time.Duration) {
	if !ec.enabled || ec.cache == nil {
		return
	}
	ec.cache.Add(key, &entry{value: value, expiresAt: time.Now().Add(ttl)})
}

func (ec *EphemeralCache) remove(key string) {
	if !ec.enabled || ec.cache == nil {
		return
	}
	ec.cache.Remove(key)
}
