// Package sync defines the domain entities, validation rules, and store
// contracts for per-user fingerprint set synchronization.
package sync

import "time"

// FingerprintRecord is one stored fingerprint for one user. Records are
// inserted by batch add and never modified; only a user reset removes them.
type FingerprintRecord struct {
	UserKey     string    `json:"userKey"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SyncStats carries cumulative synchronization counters for a user.
type SyncStats struct {
	TotalSyncs         int64 `json:"totalSyncs"`
	LastSyncAdded      int64 `json:"lastSyncAdded"`
	LastSyncDurationMs int64 `json:"lastSyncDuration"`
}

// UserMeta is the per-user aggregate record. CollectionHash is the SHA-256
// of the sorted concatenation of the user's fingerprints; the empty string
// is the "never computed" sentinel used by the first-create path.
type UserMeta struct {
	UserKey        string     `json:"userKey"`
	TotalCount     int64      `json:"totalCount"`
	CollectionHash string     `json:"collectionHash"`
	LastSyncAt     *time.Time `json:"lastSyncAt"`
	Stats          SyncStats  `json:"syncStats"`

	// BloomFilter is an opaque serialized filter blob. The meta store never
	// interprets or validates it.
	BloomFilter []byte `json:"-"`
}

// DiffSession is a short-lived snapshot of a whole-set difference
// computation, enabling paginated delivery of the client-missing side.
type DiffSession struct {
	SessionID             string    `json:"sessionId"`
	UserKey               string    `json:"userKey"`
	MissingInClient       []string  `json:"missingInClient"`
	MissingInServer       []string  `json:"missingInServer"`
	SortedMissingInClient []string  `json:"sortedMissingInClient"`
	TotalClient           int       `json:"totalClient"`
	TotalServer           int       `json:"totalServer"`
	CreatedAt             time.Time `json:"createdAt"`
	ExpiresAt             time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *DiffSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SyncLock is the in-memory mutual-exclusion record preventing concurrent
// write-path operations for one user.
type SyncLock struct {
	UserKey   string    `json:"userKey"`
	Operation string    `json:"operation"`
	LockID    string    `json:"lockId"`
	StartTime time.Time `json:"startTime"`
}

// UserKeyRecord is one entry of the external user-key whitelist. The core
// reads IsActive and FingerprintLimit; the usage counters survive resets.
type UserKeyRecord struct {
	UserKey          string    `json:"userKey"`
	IsActive         bool      `json:"isActive"`
	FingerprintLimit int64     `json:"fingerprintLimit"`
	TotalRequests    int64     `json:"totalRequests"`
	TotalSyncs       int64     `json:"totalSyncs"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// BatchResult reports the outcome of one duplicate-tolerant batch insert.
type BatchResult struct {
	InsertedCount  int `json:"insertedCount"`
	DuplicateCount int `json:"duplicateCount"`
}
