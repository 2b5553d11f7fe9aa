// Package fingerprints provides the SQL-backed fingerprint store.
package fingerprints

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/database"
)

// inClauseChunkSize bounds the number of bind parameters per query;
// SQLite's default limit is 999.
const inClauseChunkSize = 500

// Repository implements fingerprint persistence operations
type Repository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewRepository creates a new fingerprint repository
func NewRepository(db *database.DB, logger *logging.ChanneledLogger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Count returns the number of fingerprints stored for a user.
func (r *Repository) Count(userKey string) (int64, error) {
	start := time.Now()

	query := `SELECT COUNT(*) FROM user_fingerprints WHERE user_key = ?`
	var count int64
	if err := r.db.QueryRow(query, userKey).Scan(&count); err != nil {
		r.logger.Database().Error("Failed to count fingerprints", "error", err.Error(), "userKey", userKey)
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}

	duration := time.Since(start)
	database.CheckAndLogSlowQuery(r.logger, query, duration, userKey)

	return count, nil
}

// Existing returns the subset of candidates already stored for the user.
// Candidates are queried in chunks to stay under bind-parameter limits.
func (r *Repository) Existing(userKey string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	start := time.Now()
	r.logger.Database().Debug("Checking existing fingerprints", "userKey", userKey, "candidateCount", len(candidates))

	existing := make([]string, 0, len(candidates))

	for offset := 0; offset < len(candidates); offset += inClauseChunkSize {
		end := offset + inClauseChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[offset:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]

		query := fmt.Sprintf(
			`SELECT fingerprint FROM user_fingerprints WHERE user_key = ? AND fingerprint IN (%s)`,
			placeholders,
		)

		args := make([]any, 0, len(chunk)+1)
		args = append(args, userKey)
		for _, fp := range chunk {
			args = append(args, fp)
		}

		rows, err := r.db.Query(query, args...)
		if err != nil {
			r.logger.Database().Error("Failed to query existing fingerprints", "error", err.Error(), "userKey", userKey)
			return nil, fmt.Errorf("failed to query existing fingerprints: %w", err)
		}

		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
			}
			existing = append(existing, fp)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate fingerprints: %w", err)
		}
		rows.Close()
	}

	duration := time.Since(start)
	database.CheckAndLogSlowQuery(r.logger, "BULK_SELECT_existing_fingerprints", duration, userKey)

	return existing, nil
}

// Enumerate returns every fingerprint stored for the user.
func (r *Repository) Enumerate(userKey string) ([]string, error) {
	start := time.Now()

	query := `SELECT fingerprint FROM user_fingerprints WHERE user_key = ?`
	rows, err := r.db.Query(query, userKey)
	if err != nil {
		r.logger.Database().Error("Failed to enumerate fingerprints", "error", err.Error(), "userKey", userKey)
		return nil, fmt.Errorf("failed to enumerate fingerprints: %w", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fingerprints: %w", err)
	}

	duration := time.Since(start)
	database.CheckAndLogSlowQuery(r.logger, "BULK_SELECT_enumerate_fingerprints", duration, userKey)

	r.logger.Database().Debug("Enumerated fingerprints", "userKey", userKey, "count", len(fingerprints), "duration", duration)
	return fingerprints, nil
}

// InsertBatch inserts pre-validated, lowercased fingerprints inside a single
// transaction. Rows already present are counted as duplicates via
// INSERT OR IGNORE and never fail the batch.
func (r *Repository) InsertBatch(userKey string, fingerprints []string) (*domain.BatchResult, error) {
	start := time.Now()
	r.logger.Database().Debug("Inserting fingerprint batch", "userKey", userKey, "batchSize", len(fingerprints))

	result := &domain.BatchResult{}
	if len(fingerprints) == 0 {
		return result, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO user_fingerprints (user_key, fingerprint, created_at, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, fp := range fingerprints {
		res, err := stmt.Exec(userKey, fp, now, now)
		if err != nil {
			if database.IsUniqueConstraintError(err) {
				result.DuplicateCount++
				continue
			}
			r.logger.Database().Error("Failed to insert fingerprint", "error", err.Error(), "userKey", userKey)
			return nil, fmt.Errorf("failed to insert fingerprint: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			result.DuplicateCount++
		} else {
			result.InsertedCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch insert: %w", err)
	}

	duration := time.Since(start)
	database.CheckAndLogSlowQuery(r.logger, "BULK_INSERT_fingerprints", duration, userKey)

	r.logger.Database().Info("Fingerprint batch inserted",
		"userKey", userKey,
		"inserted", result.InsertedCount,
		"duplicates", result.DuplicateCount,
		"duration", duration)

	return result, nil
}

// PurgeUser removes every fingerprint of the user and reports the count.
func (r *Repository) PurgeUser(userKey string) (int64, error) {
	start := time.Now()

	query := `DELETE FROM user_fingerprints WHERE user_key = ?`
	res, err := r.db.Exec(query, userKey)
	if err != nil {
		r.logger.Database().Error("Failed to purge fingerprints", "error", err.Error(), "userKey", userKey)
		return 0, fmt.Errorf("failed to purge fingerprints: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	duration := time.Since(start)
	database.CheckAndLogSlowQuery(r.logger, query, duration, userKey)

	r.logger.Database().Info("Purged user fingerprints", "userKey", userKey, "removed", removed, "duration", duration)
	return removed, nil
}
