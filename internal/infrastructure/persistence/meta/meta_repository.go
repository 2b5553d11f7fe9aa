// Package meta provides the SQL-backed per-user aggregate store.
package meta

import (
	"database/sql"
	"fmt"
	"time"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/database"
)

// Repository implements per-user meta persistence. Refresh and ApplyDelta
// recompute totalCount and collectionHash from the fingerprint store, so the
// two records can never drift for long.
type Repository struct {
	db           *database.DB
	fingerprints domain.FingerprintStore
	logger       *logging.ChanneledLogger
}

// NewRepository creates a new meta repository
func NewRepository(db *database.DB, fingerprints domain.FingerprintStore, logger *logging.ChanneledLogger) *Repository {
	return &Repository{db: db, fingerprints: fingerprints, logger: logger}
}

// GetOrCreate fetches the user's meta, creating a zero record if none exists.
// The create path writes an empty collection hash sentinel and never
// enumerates the fingerprint store.
func (r *Repository) GetOrCreate(userKey string) (*domain.UserMeta, error) {
	meta, err := r.get(userKey)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		return meta, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `INSERT OR IGNORE INTO user_meta (user_key, total_count, collection_hash, created_at, updated_at) VALUES (?, 0, '', ?, ?)`
	if _, err := r.db.Exec(query, userKey, now, now); err != nil {
		r.logger.Database().Error("Failed to create user meta", "error", err.Error(), "userKey", userKey)
		return nil, fmt.Errorf("failed to create user meta: %w", err)
	}

	// Re-read in case a concurrent request won the insert race.
	meta, err = r.get(userKey)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("user meta missing after create for %s", userKey)
	}
	return meta, nil
}

// Refresh re-enumerates the user's fingerprints, recomputes totalCount and
// collectionHash, and writes them back.
func (r *Repository) Refresh(userKey string) (*domain.UserMeta, error) {
	start := time.Now()

	fingerprints, err := r.fingerprints.Enumerate(userKey)
	if err != nil {
		return nil, err
	}

	hash := domain.CollectionHash(fingerprints)
	count := int64(len(fingerprints))
	now := time.Now().UTC().Format(time.RFC3339)

	query := `UPDATE user_meta SET total_count = ?, collection_hash = ?, updated_at = ? WHERE user_key = ?`
	res, err := r.db.Exec(query, count, hash, now, userKey)
	if err != nil {
		r.logger.Database().Error("Failed to refresh user meta", "error", err.Error(), "userKey", userKey)
		return nil, fmt.Errorf("failed to refresh user meta: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		insert := `INSERT OR IGNORE INTO user_meta (user_key, total_count, collection_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
		if _, err := r.db.Exec(insert, userKey, count, hash, now, now); err != nil {
			return nil, fmt.Errorf("failed to create user meta during refresh: %w", err)
		}
	}

	duration := time.Since(start)
	database.CheckAndLogSlowQuery(r.logger, "BULK_REFRESH_user_meta", duration, userKey)

	r.logger.Database().Debug("Refreshed user meta", "userKey", userKey, "totalCount", count, "duration", duration)
	return r.get(userKey)
}

// ApplyDelta records a completed sync and refreshes count and hash in the
// same logical step.
func (r *Repository) ApplyDelta(userKey string, added int, duration time.Duration) (*domain.UserMeta, error) {
	fingerprints, err := r.fingerprints.Enumerate(userKey)
	if err != nil {
		return nil, err
	}

	hash := domain.CollectionHash(fingerprints)
	count := int64(len(fingerprints))
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	query := `UPDATE user_meta SET
		total_count = ?,
		collection_hash = ?,
		last_sync_at = ?,
		total_syncs = total_syncs + 1,
		last_sync_added = ?,
		last_sync_duration_ms = ?,
		updated_at = ?
		WHERE user_key = ?`
	res, err := r.db.Exec(query, count, hash, nowStr, added, duration.Milliseconds(), nowStr, userKey)
	if err != nil {
		r.logger.Database().Error("Failed to apply sync delta", "error", err.Error(), "userKey", userKey)
		return nil, fmt.Errorf("failed to apply sync delta: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		insert := `INSERT OR IGNORE INTO user_meta (user_key, total_count, collection_hash, last_sync_at, total_syncs, last_sync_added, last_sync_duration_ms, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)`
		if _, err := r.db.Exec(insert, userKey, count, hash, nowStr, added, duration.Milliseconds(), nowStr, nowStr); err != nil {
			return nil, fmt.Errorf("failed to create user meta during delta: %w", err)
		}
	}

	r.logger.Database().Info("Applied sync delta",
		"userKey", userKey,
		"added", added,
		"totalCount", count,
		"syncDuration", duration)

	return r.get(userKey)
}

// SaveBloomFilter persists an opaque serialized filter blob.
func (r *Repository) SaveBloomFilter(userKey string, blob []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `UPDATE user_meta SET bloom_filter = ?, updated_at = ? WHERE user_key = ?`
	if _, err := r.db.Exec(query, blob, now, userKey); err != nil {
		r.logger.Database().Error("Failed to save bloom filter", "error", err.Error(), "userKey", userKey)
		return fmt.Errorf("failed to save bloom filter: %w", err)
	}
	return nil
}

// Delete removes the user's meta record and reports how many were removed.
func (r *Repository) Delete(userKey string) (int64, error) {
	query := `DELETE FROM user_meta WHERE user_key = ?`
	res, err := r.db.Exec(query, userKey)
	if err != nil {
		r.logger.Database().Error("Failed to delete user meta", "error", err.Error(), "userKey", userKey)
		return 0, fmt.Errorf("failed to delete user meta: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return removed, nil
}

// get returns the user's meta record or nil when absent.
func (r *Repository) get(userKey string) (*domain.UserMeta, error) {
	query := `SELECT user_key, total_count, collection_hash, last_sync_at, total_syncs, last_sync_added, last_sync_duration_ms, bloom_filter
		FROM user_meta WHERE user_key = ?`

	var meta domain.UserMeta
	var lastSyncAt sql.NullString
	var bloomBlob []byte

	err := r.db.QueryRow(query, userKey).Scan(
		&meta.UserKey,
		&meta.TotalCount,
		&meta.CollectionHash,
		&lastSyncAt,
		&meta.Stats.TotalSyncs,
		&meta.Stats.LastSyncAdded,
		&meta.Stats.LastSyncDurationMs,
		&bloomBlob,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Database().Error("Failed to get user meta", "error", err.Error(), "userKey", userKey)
		return nil, fmt.Errorf("failed to get user meta: %w", err)
	}

	if lastSyncAt.Valid && lastSyncAt.String != "" {
		if ts, err := parseTimestamp(lastSyncAt.String); err == nil {
			meta.LastSyncAt = &ts
		}
	}
	meta.BloomFilter = bloomBlob

	return &meta, nil
}

// parseTimestamp handles both RFC3339 and SQLite's default timestamp format.
func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
