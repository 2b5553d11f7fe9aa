package services

import (
	"strings"
	"time"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/bloom"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/caching/stores"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/security"
)

// AdminService is the operator surface: admin login, user-key management,
// and operational recovery (force unlock, cache clears).
type AdminService struct {
	userKeys  domain.UserKeyStore
	locks     *SyncLockManager
	ephemeral *stores.EphemeralCache
	bloom     *bloom.Cache
	logger    *logging.ChanneledLogger
}

// NewAdminService wires the admin surface.
func NewAdminService(userKeys domain.UserKeyStore, locks *SyncLockManager, ephemeral *stores.EphemeralCache, bloomCache *bloom.Cache, logger *logging.ChanneledLogger) *AdminService {
	return &AdminService{
		userKeys:  userKeys,
		locks:     locks,
		ephemeral: ephemeral,
		bloom:     bloomCache,
		logger:    logger,
	}
}

// Login verifies admin credentials and issues a signed token.
func (a *AdminService) Login(username, password string) (string, error) {
	if err := security.VerifyAdminPassword(username, password); err != nil {
		a.logger.LogAuthOperation("admin_login", username, false)
		return "", err
	}

	token, err := security.GenerateAdminToken(username)
	if err != nil {
		a.logger.LogAuthOperation("admin_login", username, false)
		return "", err
	}

	a.logger.LogAuthOperation("admin_login", username, true)
	return token, nil
}

// RegisterUserKey creates a whitelist record for a new user key.
func (a *AdminService) RegisterUserKey(userKey string, fingerprintLimit int64, notes string) (*domain.UserKeyRecord, error) {
	canonical, err := domain.CanonicalUserKey(userKey)
	if err != nil {
		return nil, err
	}

	existing, err := a.userKeys.Find(canonical)
	if err != nil {
		return nil, domain.Internal("failed to look up user key", err)
	}
	if existing != nil {
		return nil, domain.NewError(domain.CodeValidationError, "user key is already registered")
	}

	record := &domain.UserKeyRecord{
		UserKey:          canonical,
		IsActive:         true,
		FingerprintLimit: fingerprintLimit,
		Notes:            strings.TrimSpace(notes),
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.userKeys.Create(record); err != nil {
		return nil, domain.Internal("failed to register user key", err)
	}
	return record, nil
}

// ListUserKeys returns every registered user key.
func (a *AdminService) ListUserKeys() ([]*domain.UserKeyRecord, error) {
	records, err := a.userKeys.List()
	if err != nil {
		return nil, domain.Internal("failed to list user keys", err)
	}
	return records, nil
}

// SetUserKeyActive flips the admission flag of a registered key.
func (a *AdminService) SetUserKeyActive(userKey string, active bool) error {
	canonical, err := domain.CanonicalUserKey(userKey)
	if err != nil {
		return err
	}
	if err := a.userKeys.SetActive(canonical, active); err != nil {
		return domain.NewError(domain.CodeUserKeyNotFound, "user key is not registered")
	}
	return nil
}

// ForceUnlock drops a user's sync lock. Recovery path for a crashed or
// wedged writer; reports whether a lock was actually held.
func (a *AdminService) ForceUnlock(userKey string) (bool, error) {
	canonical, err := domain.CanonicalUserKey(userKey)
	if err != nil {
		return false, err
	}
	return a.locks.ForceRelease(canonical), nil
}

// ClearUserCache drops a user's derived state: ephemeral cache entries and
// the resident bloom filter. The next lookup rebuilds both from storage.
func (a *AdminService) ClearUserCache(userKey string) error {
	canonical, err := domain.CanonicalUserKey(userKey)
	if err != nil {
		return err
	}
	a.ephemeral.ClearUserCache(canonical)
	a.bloom.Clear(canonical)
	return nil
}
