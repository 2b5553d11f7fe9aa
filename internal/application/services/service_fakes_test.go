package services

import (
	"fmt"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/bloom"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/caching/stores"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/performance"
)

const testUserKey = "550e8400-e29b-41d4-a716-446655440000"

func newTestLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		JSONFormat:      true,
		DefaultLevel:    slog.LevelError,
	})
	require.NoError(t, err)
	return logger
}

// fakeFingerprintStore is an in-memory FingerprintStore.
type fakeFingerprintStore struct {
	mu   stdsync.Mutex
	sets map[string]map[string]struct{}
}

func newFakeFingerprintStore() *fakeFingerprintStore {
	return &fakeFingerprintStore{sets: make(map[string]map[string]struct{})}
}

func (f *fakeFingerprintStore) Count(userKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.sets[userKey])), nil
}

func (f *fakeFingerprintStore) Existing(userKey string, candidates []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[userKey]
	var present []string
	for _, fp := range candidates {
		if _, ok := set[fp]; ok {
			present = append(present, fp)
		}
	}
	return present, nil
}

func (f *fakeFingerprintStore) Enumerate(userKey string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[userKey]
	out := make([]string, 0, len(set))
	for fp := range set {
		out = append(out, fp)
	}
	return out, nil
}

func (f *fakeFingerprintStore) InsertBatch(userKey string, fingerprints []string) (*domain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[userKey]
	if !ok {
		set = make(map[string]struct{})
		f.sets[userKey] = set
	}
	result := &domain.BatchResult{}
	for _, fp := range fingerprints {
		if _, dup := set[fp]; dup {
			result.DuplicateCount++
			continue
		}
		set[fp] = struct{}{}
		result.InsertedCount++
	}
	return result, nil
}

func (f *fakeFingerprintStore) PurgeUser(userKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := int64(len(f.sets[userKey]))
	delete(f.sets, userKey)
	return removed, nil
}

// seed inserts fingerprints directly, bypassing meta bookkeeping. Tests use
// it to simulate the stale-meta race the check tie-break resolves.
func (f *fakeFingerprintStore) seed(userKey string, fingerprints ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[userKey]
	if !ok {
		set = make(map[string]struct{})
		f.sets[userKey] = set
	}
	for _, fp := range fingerprints {
		set[fp] = struct{}{}
	}
}

// fakeMetaStore is an in-memory MetaStore that recomputes from the
// fingerprint fake on Refresh/ApplyDelta.
type fakeMetaStore struct {
	mu           stdsync.Mutex
	records      map[string]*domain.UserMeta
	fingerprints *fakeFingerprintStore
}

func newFakeMetaStore(fingerprints *fakeFingerprintStore) *fakeMetaStore {
	return &fakeMetaStore{records: make(map[string]*domain.UserMeta), fingerprints: fingerprints}
}

func (f *fakeMetaStore) GetOrCreate(userKey string) (*domain.UserMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta, ok := f.records[userKey]; ok {
		snapshot := *meta
		return &snapshot, nil
	}
	meta := &domain.UserMeta{UserKey: userKey}
	f.records[userKey] = meta
	snapshot := *meta
	return &snapshot, nil
}

func (f *fakeMetaStore) Refresh(userKey string) (*domain.UserMeta, error) {
	fps, err := f.fingerprints.Enumerate(userKey)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.records[userKey]
	if !ok {
		meta = &domain.UserMeta{UserKey: userKey}
		f.records[userKey] = meta
	}
	meta.TotalCount = int64(len(fps))
	meta.CollectionHash = domain.CollectionHash(fps)
	snapshot := *meta
	return &snapshot, nil
}

func (f *fakeMetaStore) ApplyDelta(userKey string, added int, duration time.Duration) (*domain.UserMeta, error) {
	if _, err := f.Refresh(userKey); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	meta := f.records[userKey]
	now := time.Now()
	meta.LastSyncAt = &now
	meta.Stats.TotalSyncs++
	meta.Stats.LastSyncAdded = int64(added)
	meta.Stats.LastSyncDurationMs = duration.Milliseconds()
	snapshot := *meta
	return &snapshot, nil
}

func (f *fakeMetaStore) SaveBloomFilter(userKey string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.records[userKey]
	if !ok {
		meta = &domain.UserMeta{UserKey: userKey}
		f.records[userKey] = meta
	}
	meta.BloomFilter = blob
	return nil
}

// corruptHash simulates a meta record lagging behind concurrent inserts.
func (f *fakeMetaStore) corruptHash(userKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta, ok := f.records[userKey]; ok {
		meta.CollectionHash = "stale"
	}
}

func (f *fakeMetaStore) Delete(userKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[userKey]; !ok {
		return 0, nil
	}
	delete(f.records, userKey)
	return 1, nil
}

// fakeSessionStore is an in-memory SessionStore honoring expiry on Find.
type fakeSessionStore struct {
	mu       stdsync.Mutex
	sessions map[string]*domain.DiffSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.DiffSession)}
}

func (f *fakeSessionStore) Create(session *domain.DiffSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.SessionID] = &copied
	return nil
}

func (f *fakeSessionStore) Find(sessionID string) (*domain.DiffSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.Expired(time.Now()) {
		return nil, nil
	}
	snapshot := *session
	return &snapshot, nil
}

func (f *fakeSessionStore) RecordSortedView(sessionID string, sorted []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	session.SortedMissingInClient = sorted
	return nil
}

func (f *fakeSessionStore) DeleteByUser(userKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, session := range f.sessions {
		if session.UserKey == userKey {
			delete(f.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeSessionStore) CountActive() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active int64
	now := time.Now()
	for _, session := range f.sessions {
		if !session.Expired(now) {
			active++
		}
	}
	return active, nil
}

func (f *fakeSessionStore) DeleteExpired(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, session := range f.sessions {
		if !session.ExpiresAt.After(cutoff) {
			delete(f.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// expire backdates a session so Find treats it as gone.
func (f *fakeSessionStore) expire(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[sessionID]; ok {
		session.ExpiresAt = time.Now().Add(-time.Second)
	}
}

// fakeUserKeyStore is an in-memory UserKeyStore.
type fakeUserKeyStore struct {
	mu      stdsync.Mutex
	records map[string]*domain.UserKeyRecord
}

func newFakeUserKeyStore() *fakeUserKeyStore {
	return &fakeUserKeyStore{records: make(map[string]*domain.UserKeyRecord)}
}

func (f *fakeUserKeyStore) Find(userKey string) (*domain.UserKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[userKey]
	if !ok {
		return nil, nil
	}
	snapshot := *record
	return &snapshot, nil
}

func (f *fakeUserKeyStore) Create(record *domain.UserKeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *record
	f.records[record.UserKey] = &copied
	return nil
}

func (f *fakeUserKeyStore) List() ([]*domain.UserKeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.UserKeyRecord, 0, len(f.records))
	for _, record := range f.records {
		snapshot := *record
		out = append(out, &snapshot)
	}
	return out, nil
}

func (f *fakeUserKeyStore) SetActive(userKey string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[userKey]
	if !ok {
		return fmt.Errorf("user key not found: %s", userKey)
	}
	record.IsActive = active
	return nil
}

func (f *fakeUserKeyStore) IncrementRequests(userKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.records[userKey]; ok {
		record.TotalRequests++
	}
	return nil
}

func (f *fakeUserKeyStore) IncrementSyncs(userKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.records[userKey]; ok {
		record.TotalSyncs++
	}
	return nil
}

// testEnv bundles the engine with its fakes.
type testEnv struct {
	service      *SyncService
	fingerprints *fakeFingerprintStore
	meta         *fakeMetaStore
	sessions     *fakeSessionStore
	userKeys     *fakeUserKeyStore
	locks        *SyncLockManager
	ephemeral    *stores.EphemeralCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := newTestLogger(t)
	fingerprints := newFakeFingerprintStore()
	metaStore := newFakeMetaStore(fingerprints)
	sessionStore := newFakeSessionStore()
	userKeyStore := newFakeUserKeyStore()

	require.NoError(t, userKeyStore.Create(&domain.UserKeyRecord{
		UserKey:   testUserKey,
		IsActive:  true,
		CreatedAt: time.Now(),
	}))

	ephemeral, err := stores.NewEphemeralCache(logger)
	require.NoError(t, err)

	locks := NewSyncLockManager(logger)
	service := NewSyncService(
		fingerprints,
		metaStore,
		sessionStore,
		userKeyStore,
		locks,
		bloom.NewCache(fingerprints, metaStore, logger),
		ephemeral,
		performance.NewTracker(nil),
		logger,
	)

	return &testEnv{
		service:      service,
		fingerprints: fingerprints,
		meta:         metaStore,
		sessions:     sessionStore,
		userKeys:     userKeyStore,
		locks:        locks,
		ephemeral:    ephemeral,
	}
}

// fingerprintAt generates a deterministic valid fingerprint.
func fingerprintAt(i int) string {
	return fmt.Sprintf("%064x", i)
}

func fingerprintRange(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fingerprintAt(i)
	}
	return out
}
