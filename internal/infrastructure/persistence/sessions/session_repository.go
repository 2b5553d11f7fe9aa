// Package sessions provides the SQL-backed diff-session store. Sessions
// carry a hard expiry; Find never returns an expired row even before the
// reaper has reclaimed it.
package sessions

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/database"
)

// Repository implements diff-session persistence operations
type Repository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewRepository creates a new session repository
func NewRepository(db *database.DB, logger *logging.ChanneledLogger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create persists a session; ExpiresAt must already be stamped.
func (r *Repository) Create(session *domain.DiffSession) error {
	start := time.Now()

	missingInClient, err := json.Marshal(session.MissingInClient)
	if err != nil {
		return fmt.Errorf("failed to encode missingInClient: %w", err)
	}
	missingInServer, err := json.Marshal(session.MissingInServer)
	if err != nil {
		return fmt.Errorf("failed to encode missingInServer: %w", err)
	}

	query := `INSERT INTO diff_sessions (session_id, user_key, missing_in_client, missing_in_server, total_client, total_server, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		session.SessionID,
		session.UserKey,
		string(missingInClient),
		string(missingInServer),
		session.TotalClient,
		session.TotalServer,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.logger.Database().Error("Failed to create diff session", "error", err.Error(), "sessionId", session.SessionID)
		return fmt.Errorf("failed to create diff session: %w", err)
	}

	duration := time.Since(start)
	database.CheckAndLogSlowQuery(r.logger, "BULK_INSERT_diff_session", duration, session.UserKey)

	r.logger.Session().Info("Diff session created",
		"sessionId", session.SessionID,
		"userKey", session.UserKey,
		"missingInClient", len(session.MissingInClient),
		"missingInServer", len(session.MissingInServer),
		"expiresAt", session.ExpiresAt.Format(time.RFC3339),
		"duration", duration)

	return nil
}

// Find returns the live session or nil. Expiry is checked in the query so
// an expired-but-unreaped row behaves exactly like a missing one.
func (r *Repository) Find(sessionID string) (*domain.DiffSession, error) {
	query := `SELECT session_id, user_key, missing_in_client, missing_in_server, sorted_missing_in_client, total_client, total_server, created_at, expires_at
		FROM diff_sessions WHERE session_id = ? AND expires_at > ?`

	now := time.Now().UTC().Format(time.RFC3339)

	var session domain.DiffSession
	var missingInClient, missingInServer string
	var sortedMissing sql.NullString
	var createdAt, expiresAt string

	err := r.db.QueryRow(query, sessionID, now).Scan(
		&session.SessionID,
		&session.UserKey,
		&missingInClient,
		&missingInServer,
		&sortedMissing,
		&session.TotalClient,
		&session.TotalServer,
		&createdAt,
		&expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Database().Error("Failed to find diff session", "error", err.Error(), "sessionId", sessionID)
		return nil, fmt.Errorf("failed to find diff session: %w", err)
	}

	if err := json.Unmarshal([]byte(missingInClient), &session.MissingInClient); err != nil {
		return nil, fmt.Errorf("failed to decode missingInClient: %w", err)
	}
	if err := json.Unmarshal([]byte(missingInServer), &session.MissingInServer); err != nil {
		return nil, fmt.Errorf("failed to decode missingInServer: %w", err)
	}
	if sortedMissing.Valid && sortedMissing.String != "" {
		if err := json.Unmarshal([]byte(sortedMissing.String), &session.SortedMissingInClient); err != nil {
			// A corrupt sorted view is recoverable; pagination re-sorts.
			r.logger.Session().Warn("Discarding unreadable sorted view", "sessionId", sessionID, "error", err.Error())
			session.SortedMissingInClient = nil
		}
	}

	if ts, err := parseTimestamp(createdAt); err == nil {
		session.CreatedAt = ts
	}
	if ts, err := parseTimestamp(expiresAt); err == nil {
		session.ExpiresAt = ts
	}

	return &session, nil
}

// RecordSortedView upserts the precomputed sorted projection. Failures are
// the caller's to ignore; pagination works without the stored view.
func (r *Repository) RecordSortedView(sessionID string, sorted []string) error {
	encoded, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("failed to encode sorted view: %w", err)
	}

	query := `UPDATE diff_sessions SET sorted_missing_in_client = ? WHERE session_id = ?`
	if _, err := r.db.Exec(query, string(encoded), sessionID); err != nil {
		r.logger.Database().Error("Failed to record sorted view", "error", err.Error(), "sessionId", sessionID)
		return fmt.Errorf("failed to record sorted view: %w", err)
	}
	return nil
}

// DeleteByUser removes all sessions of a user and reports the count.
func (r *Repository) DeleteByUser(userKey string) (int64, error) {
	query := `DELETE FROM diff_sessions WHERE user_key = ?`
	res, err := r.db.Exec(query, userKey)
	if err != nil {
		r.logger.Database().Error("Failed to delete user sessions", "error", err.Error(), "userKey", userKey)
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return removed, nil
}

// CountActive reports the number of unexpired sessions.
func (r *Repository) CountActive() (int64, error) {
	query := `SELECT COUNT(*) FROM diff_sessions WHERE expires_at > ?`
	var count int64
	if err := r.db.QueryRow(query, time.Now().UTC().Format(time.RFC3339)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// DeleteExpired reclaims sessions whose expiry precedes the cutoff.
func (r *Repository) DeleteExpired(cutoff time.Time) (int64, error) {
	query := `DELETE FROM diff_sessions WHERE expires_at <= ?`
	res, err := r.db.Exec(query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		r.logger.Database().Error("Failed to reap expired sessions", "error", err.Error())
		return 0, fmt.Errorf("failed to reap expired sessions: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if removed > 0 {
		r.logger.Session().Info("Reaped expired diff sessions", "removed", removed)
	}
	return removed, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
