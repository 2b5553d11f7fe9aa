package sync

import "time"

// FingerprintStore is the authoritative, persistent mapping of
// (userKey, fingerprint) pairs. Uniqueness is enforced at the storage
// layer; InsertBatch consumes constraint violations as duplicates.
type FingerprintStore interface {
	// Count returns the number of fingerprints stored for a user.
	Count(userKey string) (int64, error)

	// Existing returns the subset of candidates already stored for the
	// user. Callers deduplicate candidates first.
	Existing(userKey string, candidates []string) ([]string, error)

	// Enumerate returns every fingerprint stored for the user.
	Enumerate(userKey string) ([]string, error)

	// InsertBatch inserts pre-validated, lowercased fingerprints.
	// Duplicates (already stored, or repeated within the batch) are counted
	// and never cause partial failure.
	InsertBatch(userKey string, fingerprints []string) (*BatchResult, error)

	// PurgeUser removes every fingerprint of the user and reports the count.
	PurgeUser(userKey string) (int64, error)
}

// MetaStore holds the per-user aggregate record and owns the
// count/collection-hash invariants.
type MetaStore interface {
	// GetOrCreate fetches the user's meta, creating a zero record if none
	// exists. The create path never enumerates the fingerprint store.
	GetOrCreate(userKey string) (*UserMeta, error)

	// Refresh re-enumerates the user's fingerprints, recomputes totalCount
	// and collectionHash, and writes them back.
	Refresh(userKey string) (*UserMeta, error)

	// ApplyDelta records a completed sync (added count, duration), stamps
	// lastSyncAt, and refreshes count and hash in the same logical step.
	ApplyDelta(userKey string, added int, duration time.Duration) (*UserMeta, error)

	// SaveBloomFilter persists an opaque serialized filter blob.
	SaveBloomFilter(userKey string, blob []byte) error

	// Delete removes the user's meta record and reports how many were removed.
	Delete(userKey string) (int64, error)
}

// SessionStore is the durable diff-session handoff with automatic expiry.
type SessionStore interface {
	// Create persists a session; ExpiresAt must already be stamped.
	Create(session *DiffSession) error

	// Find returns the live session or nil. Expired sessions are never
	// returned, regardless of whether the reaper has reclaimed them yet.
	Find(sessionID string) (*DiffSession, error)

	// RecordSortedView upserts the precomputed sorted projection.
	RecordSortedView(sessionID string, sorted []string) error

	// DeleteByUser removes all sessions of a user and reports the count.
	DeleteByUser(userKey string) (int64, error)

	// CountActive reports the number of unexpired sessions.
	CountActive() (int64, error)

	// DeleteExpired reclaims sessions whose expiry precedes the cutoff.
	DeleteExpired(cutoff time.Time) (int64, error)
}

// UserKeyStore is the external whitelist of admitted user keys. The sync
// core only reads it; the admin surface mutates it.
type UserKeyStore interface {
	// Find returns the record for a canonical user key, or nil.
	Find(userKey string) (*UserKeyRecord, error)

	// Create registers a new user key.
	Create(record *UserKeyRecord) error

	// List returns every registered user key.
	List() ([]*UserKeyRecord, error)

	// SetActive flips the admission flag.
	SetActive(userKey string, active bool) error

	// IncrementRequests bumps the usage counter for an admitted request.
	IncrementRequests(userKey string) error

	// IncrementSyncs bumps the completed-sync counter.
	IncrementSyncs(userKey string) error
}
