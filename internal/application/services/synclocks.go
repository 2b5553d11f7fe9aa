// Package services contains the application-level sync engine, its
// per-user locking, and the admin surface.
package services

import (
	stdsync "sync"
	"time"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/security"
	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

// SyncLockManager serializes write-path operations per user. Locks are
// process-local and carry a hard reclaim age: a holder past the TTL is
// presumed dead and its lock is stolen with a warning.
type SyncLockManager struct {
	mu     stdsync.Mutex
	locks  map[string]*domain.SyncLock
	ttl    time.Duration
	logger *logging.ChanneledLogger
}

// NewSyncLockManager creates a lock manager with the configured reclaim TTL.
func NewSyncLockManager(logger *logging.ChanneledLogger) *SyncLockManager {
	return &SyncLockManager{
		locks:  make(map[string]*domain.SyncLock),
		ttl:    config.SyncLockTTL,
		logger: logger,
	}
}

// Acquire takes the user's sync lock for the named operation. A live
// holder yields SYNC_IN_PROGRESS; a holder past the reclaim TTL is evicted.
func (m *SyncLockManager) Acquire(userKey, operation string) (*domain.SyncLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[userKey]; ok {
		age := time.Since(existing.StartTime)
		if age < m.ttl {
			return nil, domain.NewErrorf(domain.CodeSyncInProgress,
				"another sync operation is in progress for this user").
				WithDetail("operation", existing.Operation).
				WithDetail("lockAgeSeconds", int(age.Seconds()))
		}

		m.logger.Sync().Warn("Reclaiming stale sync lock",
			"userKey", userKey,
			"operation", existing.Operation,
			"lockId", existing.LockID,
			"age", age)
		delete(m.locks, userKey)
	}

	lock := &domain.SyncLock{
		UserKey:   userKey,
		Operation: operation,
		LockID:    security.GenerateLockID(),
		StartTime: time.Now(),
	}
	m.locks[userKey] = lock

	m.logger.Sync().Debug("Sync lock acquired", "userKey", userKey, "operation", operation, "lockId", lock.LockID)
	return lock, nil
}

// Release drops the lock if lockID still names the current holder. A
// mismatch means the lock was reclaimed and now belongs to someone else.
func (m *SyncLockManager) Release(userKey, lockID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[userKey]
	if !ok {
		return
	}
	if existing.LockID != lockID {
		m.logger.Sync().Warn("Refusing to release reclaimed sync lock",
			"userKey", userKey,
			"heldLockId", existing.LockID,
			"releaseLockId", lockID)
		return
	}

	delete(m.locks, userKey)
	m.logger.Sync().Debug("Sync lock released", "userKey", userKey, "lockId", lockID, "heldFor", time.Since(existing.StartTime))
}

// ForceRelease unconditionally drops the user's lock. Admin recovery path.
func (m *SyncLockManager) ForceRelease(userKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[userKey]
	if !ok {
		return false
	}

	delete(m.locks, userKey)
	m.logger.Sync().Warn("Sync lock force-released",
		"userKey", userKey,
		"operation", existing.Operation,
		"heldFor", time.Since(existing.StartTime))
	return true
}

// Get returns a snapshot of the user's current lock, or nil.
func (m *SyncLockManager) Get(userKey string) *domain.SyncLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[userKey]
	if !ok {
		return nil
	}
	snapshot := *existing
	return &snapshot
}

// Count reports the number of currently held locks.
func (m *SyncLockManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Sweep releases locks older than maxAge and reports how many were evicted.
// The maintenance worker calls this on its interval.
func (m *SyncLockManager) Sweep(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	now := time.Now()
	for userKey, lock := range m.locks {
		age := now.Sub(lock.StartTime)
		if age > maxAge {
			m.logger.Sync().Warn("Evicting stale sync lock during maintenance",
				"userKey", userKey,
				"operation", lock.Operation,
				"age", age)
			delete(m.locks, userKey)
			evicted++
		}
	}
	return evicted
}
