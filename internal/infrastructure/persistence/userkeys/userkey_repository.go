// Package userkeys provides the SQL-backed user-key whitelist store.
package userkeys

import (
	"database/sql"
	"fmt"
	"time"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/database"
)

// Repository implements user-key whitelist persistence operations
type Repository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewRepository creates a new user-key repository
func NewRepository(db *database.DB, logger *logging.ChanneledLogger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Find returns the record for a canonical user key, or nil.
func (r *Repository) Find(userKey string) (*domain.UserKeyRecord, error) {
	query := `SELECT user_key, is_active, fingerprint_limit, total_requests, total_syncs, notes, created_at
		FROM user_keys WHERE user_key = ?`

	var record domain.UserKeyRecord
	var isActive int
	var createdAt string

	err := r.db.QueryRow(query, userKey).Scan(
		&record.UserKey,
		&isActive,
		&record.FingerprintLimit,
		&record.TotalRequests,
		&record.TotalSyncs,
		&record.Notes,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Database().Error("Failed to find user key", "error", err.Error(), "userKey", userKey)
		return nil, fmt.Errorf("failed to find user key: %w", err)
	}

	record.IsActive = isActive != 0
	if ts, err := parseTimestamp(createdAt); err == nil {
		record.CreatedAt = ts
	}

	return &record, nil
}

// Create registers a new user key.
func (r *Repository) Create(record *domain.UserKeyRecord) error {
	isActive := 0
	if record.IsActive {
		isActive = 1
	}

	query := `INSERT INTO user_keys (user_key, is_active, fingerprint_limit, notes, created_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.Exec(query,
		record.UserKey,
		isActive,
		record.FingerprintLimit,
		record.Notes,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if database.IsUniqueConstraintError(err) {
			return fmt.Errorf("user key already registered: %w", err)
		}
		r.logger.Database().Error("Failed to create user key", "error", err.Error(), "userKey", record.UserKey)
		return fmt.Errorf("failed to create user key: %w", err)
	}

	r.logger.Auth().Info("User key registered", "userKey", record.UserKey, "isActive", record.IsActive)
	return nil
}

// List returns every registered user key.
func (r *Repository) List() ([]*domain.UserKeyRecord, error) {
	query := `SELECT user_key, is_active, fingerprint_limit, total_requests, total_syncs, notes, created_at
		FROM user_keys ORDER BY created_at`

	rows, err := r.db.Query(query)
	if err != nil {
		r.logger.Database().Error("Failed to list user keys", "error", err.Error())
		return nil, fmt.Errorf("failed to list user keys: %w", err)
	}
	defer rows.Close()

	var records []*domain.UserKeyRecord
	for rows.Next() {
		var record domain.UserKeyRecord
		var isActive int
		var createdAt string

		if err := rows.Scan(
			&record.UserKey,
			&isActive,
			&record.FingerprintLimit,
			&record.TotalRequests,
			&record.TotalSyncs,
			&record.Notes,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user key: %w", err)
		}

		record.IsActive = isActive != 0
		if ts, err := parseTimestamp(createdAt); err == nil {
			record.CreatedAt = ts
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user keys: %w", err)
	}

	return records, nil
}

// SetActive flips the admission flag.
func (r *Repository) SetActive(userKey string, active bool) error {
	isActive := 0
	if active {
		isActive = 1
	}

	query := `UPDATE user_keys SET is_active = ? WHERE user_key = ?`
	res, err := r.db.Exec(query, isActive, userKey)
	if err != nil {
		r.logger.Database().Error("Failed to update user key", "error", err.Error(), "userKey", userKey)
		return fmt.Errorf("failed to update user key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user key not found: %s", userKey)
	}

	r.logger.Auth().Info("User key admission updated", "userKey", userKey, "isActive", active)
	return nil
}

// IncrementRequests bumps the usage counter for an admitted request.
func (r *Repository) IncrementRequests(userKey string) error {
	query := `UPDATE user_keys SET total_requests = total_requests + 1 WHERE user_key = ?`
	if _, err := r.db.Exec(query, userKey); err != nil {
		return fmt.Errorf("failed to increment request counter: %w", err)
	}
	return nil
}

// IncrementSyncs bumps the completed-sync counter.
func (r *Repository) IncrementSyncs(userKey string) error {
	query := `UPDATE user_keys SET total_syncs = total_syncs + 1 WHERE user_key = ?`
	if _, err := r.db.Exec(query, userKey); err != nil {
		return fmt.Errorf("failed to increment sync counter: %w", err)
	}
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
