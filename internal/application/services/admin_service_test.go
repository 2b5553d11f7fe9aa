package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/bloom"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/caching/stores"
)

type adminEnv struct {
	service      *AdminService
	ephemeral    *stores.EphemeralCache
	bloom        *bloom.Cache
	fingerprints *fakeFingerprintStore
	userKeys     *fakeUserKeyStore
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()

	logger := newTestLogger(t)
	fingerprints := newFakeFingerprintStore()
	metaStore := newFakeMetaStore(fingerprints)
	userKeyStore := newFakeUserKeyStore()

	ephemeral, err := stores.NewEphemeralCache(logger)
	require.NoError(t, err)
	bloomCache := bloom.NewCache(fingerprints, metaStore, logger)

	service := NewAdminService(userKeyStore, NewSyncLockManager(logger), ephemeral, bloomCache, logger)
	return &adminEnv{
		service:      service,
		ephemeral:    ephemeral,
		bloom:        bloomCache,
		fingerprints: fingerprints,
		userKeys:     userKeyStore,
	}
}

func TestClearUserCacheDropsEphemeralAndBloom(t *testing.T) {
	env := newAdminEnv(t)

	env.fingerprints.seed(testUserKey, fingerprintAt(1))
	_, _, err := env.bloom.MightContain(testUserKey, fingerprintAt(1))
	require.NoError(t, err)
	require.Equal(t, 1, env.bloom.Stats()["loadedFilters"])

	env.ephemeral.SetUserMeta(testUserKey, &domain.UserMeta{UserKey: testUserKey})

	require.NoError(t, env.service.ClearUserCache(testUserKey))

	assert.Nil(t, env.ephemeral.GetUserMeta(testUserKey))
	assert.Equal(t, 0, env.bloom.Stats()["loadedFilters"], "resident bloom filter is dropped")
}

func TestRegisterUserKeyRejectsDuplicate(t *testing.T) {
	env := newAdminEnv(t)

	record, err := env.service.RegisterUserKey(testUserKey, 0, "first")
	require.NoError(t, err)
	assert.True(t, record.IsActive)

	_, err = env.service.RegisterUserKey(testUserKey, 0, "again")
	requireCode(t, err, domain.CodeValidationError)
}
