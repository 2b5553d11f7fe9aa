package services

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
)

func requireCode(t *testing.T, err error, code domain.Code) *domain.Error {
	t.Helper()
	require.Error(t, err)
	typed, ok := domain.AsError(err)
	require.True(t, ok, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code)
	return typed
}

func TestCheckBothEmpty(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.service.Check(testUserKey, 0, domain.EmptyCollectionHash())
	require.NoError(t, err)
	assert.False(t, result.NeedSync)
	assert.Equal(t, ReasonBothEmpty, result.Reason)
	assert.Equal(t, int64(0), result.ServerCount)
	assert.Equal(t, domain.EmptyCollectionHash(), result.ServerHash)
	assert.Nil(t, result.LastSyncAt)
}

func TestCheckServerEmpty(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.service.Check(testUserKey, 10, "whatever")
	require.NoError(t, err)
	assert.True(t, result.NeedSync)
	assert.Equal(t, ReasonServerEmpty, result.Reason)
}

func TestCheckClientEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(3))
	require.NoError(t, err)

	result, err := env.service.Check(testUserKey, 0, domain.EmptyCollectionHash())
	require.NoError(t, err)
	assert.True(t, result.NeedSync)
	assert.Equal(t, ReasonClientEmpty, result.Reason)
	assert.Equal(t, int64(3), result.ServerCount)
}

func TestCheckCountMismatch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(3))
	require.NoError(t, err)

	result, err := env.service.Check(testUserKey, 2, "whatever")
	require.NoError(t, err)
	assert.True(t, result.NeedSync)
	assert.Equal(t, ReasonCountMismatch, result.Reason)
}

func TestCheckAlreadySynced(t *testing.T) {
	env := newTestEnv(t)
	fps := fingerprintRange(3)
	_, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)

	result, err := env.service.Check(testUserKey, 3, domain.CollectionHash(fps))
	require.NoError(t, err)
	assert.False(t, result.NeedSync)
	assert.Equal(t, ReasonAlreadySynced, result.Reason)
	assert.NotNil(t, result.LastSyncAt)
}

func TestCheckSyncInProgress(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.locks.Acquire(testUserKey, "batch_add")
	require.NoError(t, err)

	result, err := env.service.Check(testUserKey, 5, "whatever")
	require.NoError(t, err)
	assert.False(t, result.NeedSync)
	assert.Equal(t, ReasonSyncInProgress, result.Reason)
}

func TestCheckTieBreakResolvesViaRefresh(t *testing.T) {
	env := newTestEnv(t)
	fps := fingerprintRange(3)
	_, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)

	// Simulate the lag: the stored hash is stale while the count agrees.
	env.meta.corruptHash(testUserKey)
	env.ephemeral.ClearUserCache(testUserKey)

	result, err := env.service.Check(testUserKey, 3, domain.CollectionHash(fps))
	require.NoError(t, err)
	assert.False(t, result.NeedSync)
	assert.Equal(t, ReasonAlreadySynced, result.Reason)
	assert.Equal(t, domain.CollectionHash(fps), result.ServerHash)
}

func TestCheckTieBreakHashMismatch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(2))
	require.NoError(t, err)

	otherSet := []string{fingerprintAt(0), fingerprintAt(99)}
	result, err := env.service.Check(testUserKey, 2, domain.CollectionHash(otherSet))
	require.NoError(t, err)
	assert.True(t, result.NeedSync)
	assert.Equal(t, ReasonHashMismatch, result.Reason)
}

func TestCheckRejectsUnknownAndInactiveUsers(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Check("650e8400-e29b-41d4-a716-446655440000", 0, "")
	requireCode(t, err, domain.CodeUserKeyNotFound)

	require.NoError(t, env.userKeys.SetActive(testUserKey, false))
	_, err = env.service.Check(testUserKey, 0, "")
	requireCode(t, err, domain.CodeUserKeyInactive)

	_, err = env.service.Check("garbage", 0, "")
	requireCode(t, err, domain.CodeInvalidUserKey)
}

func TestBatchAddFirstUpload(t *testing.T) {
	env := newTestEnv(t)
	fps := fingerprintRange(5)

	result, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)
	assert.Equal(t, 5, result.AddedCount)
	assert.Equal(t, 0, result.DuplicateCount)
	assert.Equal(t, int64(5), result.NewTotalCount)

	meta, err := env.meta.GetOrCreate(testUserKey)
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.TotalCount)
	assert.Equal(t, domain.CollectionHash(fps), meta.CollectionHash)

	// The next check observes the new elements immediately.
	check, err := env.service.Check(testUserKey, 5, domain.CollectionHash(fps))
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadySynced, check.Reason)
}

func TestBatchAddIdempotent(t *testing.T) {
	env := newTestEnv(t)
	fps := fingerprintRange(5)

	_, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)

	again, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)
	assert.Equal(t, 0, again.AddedCount)
	assert.Equal(t, 5, again.DuplicateCount)
	assert.Equal(t, int64(5), again.NewTotalCount)
}

func TestBatchAddValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.BatchAddFingerprints(testUserKey, []string{fingerprintAt(1), fingerprintAt(1)})
	requireCode(t, err, domain.CodeValidationError)

	_, err = env.service.BatchAddFingerprints(testUserKey, []string{"zz"})
	requireCode(t, err, domain.CodeInvalidFingerprintFormat)

	_, err = env.service.BatchAddFingerprints(testUserKey, fingerprintRange(1001))
	requireCode(t, err, domain.CodeRequestTooLarge)
}

func TestBatchAddLimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.userKeys.Create(&domain.UserKeyRecord{
		UserKey:          "750e8400-e29b-41d4-a716-446655440000",
		IsActive:         true,
		FingerprintLimit: 3,
	}))

	limited := "750e8400-e29b-41d4-a716-446655440000"
	_, err := env.service.BatchAddFingerprints(limited, fingerprintRange(3))
	require.NoError(t, err)

	_, err = env.service.BatchAddFingerprints(limited, []string{fingerprintAt(10)})
	typed := requireCode(t, err, domain.CodeFingerprintLimitExceeded)
	assert.Equal(t, 403, typed.Status())
}

func TestBatchAddWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.locks.Acquire(testUserKey, "reset")
	require.NoError(t, err)

	_, err = env.service.BatchAddFingerprints(testUserKey, fingerprintRange(1))
	typed := requireCode(t, err, domain.CodeSyncInProgress)
	assert.Equal(t, 409, typed.Status())
}

func TestAnalyzeEmptyClientPullsEverything(t *testing.T) {
	env := newTestEnv(t)
	fps := fingerprintRange(7)
	_, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)

	result, err := env.service.AnalyzeDifference(testUserKey, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, result.DiffStats.ClientMissingCount)
	assert.Equal(t, 0, result.DiffStats.ServerMissingCount)
	assert.Equal(t, 1, result.DiffStats.TotalPages)
	assert.Equal(t, "pull", result.Recommendations.Action)
	assert.True(t, strings.HasPrefix(result.DiffSessionID, "diff_"))
}

func TestAnalyzeNoDiffRefreshesMeta(t *testing.T) {
	env := newTestEnv(t)
	fps := fingerprintRange(4)
	_, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)
	env.meta.corruptHash(testUserKey)

	result, err := env.service.AnalyzeDifference(testUserKey, fps)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DiffStats.ClientMissingCount)
	assert.Equal(t, 0, result.DiffStats.ServerMissingCount)
	assert.Equal(t, "none", result.Recommendations.Action)

	// The silent refresh repaired the stale hash.
	check, err := env.service.Check(testUserKey, 4, domain.CollectionHash(fps))
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadySynced, check.Reason)
}

func TestAnalyzeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	fps := fingerprintRange(10)
	_, err := env.service.BatchAddFingerprints(testUserKey, fps)
	require.NoError(t, err)

	clientOnly := fingerprintAt(100)
	result, err := env.service.AnalyzeDifference(testUserKey, append(fps[:4:4], clientOnly))
	require.NoError(t, err)
	assert.Equal(t, 6, result.DiffStats.ClientMissingCount)
	assert.Equal(t, 1, result.DiffStats.ServerMissingCount)
	assert.Equal(t, "bidirectional", result.Recommendations.Action)
}

func TestPullDiffPagePagination(t *testing.T) {
	env := newTestEnv(t)
	total := 2500
	all := fingerprintRange(total)

	for start := 0; start < total; start += 1000 {
		end := start + 1000
		if end > total {
			end = total
		}
		_, err := env.service.BatchAddFingerprints(testUserKey, all[start:end])
		require.NoError(t, err)
	}

	analysis, err := env.service.AnalyzeDifference(testUserKey, nil)
	require.NoError(t, err)
	require.Equal(t, total, analysis.DiffStats.ClientMissingCount)
	require.Equal(t, 3, analysis.DiffStats.TotalPages)

	var pulled []string
	for page := 0; page < analysis.DiffStats.TotalPages; page++ {
		result, err := env.service.PullDiffPage(testUserKey, analysis.DiffSessionID, page)
		require.NoError(t, err)
		assert.Equal(t, page, result.PageInfo.CurrentPage)
		assert.Equal(t, total, result.PageInfo.TotalCount)
		assert.Equal(t, page < 2, result.PageInfo.HasMore)
		pulled = append(pulled, result.MissingFingerprints...)
	}

	require.Len(t, pulled, total)
	expected := make([]string, total)
	copy(expected, all)
	sort.Strings(expected)
	assert.Equal(t, expected, pulled)
	assert.True(t, sort.StringsAreSorted(pulled))
}

func TestPullDiffPageClampsIndex(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(5))
	require.NoError(t, err)

	analysis, err := env.service.AnalyzeDifference(testUserKey, nil)
	require.NoError(t, err)

	result, err := env.service.PullDiffPage(testUserKey, analysis.DiffSessionID, 99)
	require.NoError(t, err)
	assert.Equal(t, 0, result.PageInfo.CurrentPage)
	assert.False(t, result.PageInfo.HasMore)
	assert.Len(t, result.MissingFingerprints, 5)
}

func TestPullDiffPageSessionNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.PullDiffPage(testUserKey, "diff_123_missing", 0)
	typed := requireCode(t, err, domain.CodeDiffSessionNotFound)
	assert.Equal(t, 404, typed.Status())
	assert.Equal(t, 300, typed.Details["retryAfter"])
}

func TestPullDiffPageExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(3))
	require.NoError(t, err)

	analysis, err := env.service.AnalyzeDifference(testUserKey, nil)
	require.NoError(t, err)

	env.sessions.expire(analysis.DiffSessionID)
	env.ephemeral.ClearUserCache(testUserKey)

	_, err = env.service.PullDiffPage(testUserKey, analysis.DiffSessionID, 0)
	requireCode(t, err, domain.CodeDiffSessionNotFound)
}

func TestPullDiffPageUserMismatch(t *testing.T) {
	env := newTestEnv(t)
	other := "850e8400-e29b-41d4-a716-446655440000"
	require.NoError(t, env.userKeys.Create(&domain.UserKeyRecord{UserKey: other, IsActive: true}))

	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(3))
	require.NoError(t, err)
	analysis, err := env.service.AnalyzeDifference(testUserKey, nil)
	require.NoError(t, err)

	_, err = env.service.PullDiffPage(other, analysis.DiffSessionID, 0)
	typed := requireCode(t, err, domain.CodeDiffSessionUserMismatch)
	assert.Equal(t, 403, typed.Status())
}

func TestBidirectionalDiffSplitsBatch(t *testing.T) {
	env := newTestEnv(t)
	stored := fingerprintRange(4)
	_, err := env.service.BatchAddFingerprints(testUserKey, stored)
	require.NoError(t, err)

	batch := []string{stored[0], stored[1], fingerprintAt(50), fingerprintAt(51)}
	result, err := env.service.BidirectionalDiff(testUserKey, batch, 1, len(batch), 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{stored[0], stored[1]}, result.ServerExistingFingerprints)
	assert.ElementsMatch(t, []string{fingerprintAt(50), fingerprintAt(51)}, result.ServerMissingFingerprints)
	assert.Equal(t, 2, result.MissingCount)
	assert.Equal(t, 2, result.ExistingCount)
	assert.Nil(t, result.SessionInfo, "only batch 0 creates the advisory session")
}

func TestBidirectionalDiffBatchZeroAdvisorySession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(10))
	require.NoError(t, err)

	batch := []string{fingerprintAt(0), fingerprintAt(1)}
	result, err := env.service.BidirectionalDiff(testUserKey, batch, 0, 2, 1)
	require.NoError(t, err)

	require.NotNil(t, result.SessionInfo)
	assert.Equal(t, int64(8), result.SessionInfo.EstimatedClientMissing)

	session, err := env.sessions.Find(result.SessionInfo.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Empty(t, session.MissingInClient)
}

func TestBidirectionalDiffRejectsBatchDuplicates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BidirectionalDiff(testUserKey, []string{fingerprintAt(1), fingerprintAt(1)}, 0, 2, 1)
	requireCode(t, err, domain.CodeValidationError)
}

func TestResetPreservesUsageCounters(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(5))
	require.NoError(t, err)

	before, err := env.userKeys.Find(testUserKey)
	require.NoError(t, err)

	result, err := env.service.ResetUserData(testUserKey, "test wipe")
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Before.FingerprintCount)
	assert.Equal(t, int64(5), result.ClearedFingerprints)
	assert.Equal(t, int64(1), result.ClearedMetas)
	assert.True(t, result.ClearedCache)

	count, err := env.fingerprints.Count(testUserKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	after, err := env.userKeys.Find(testUserKey)
	require.NoError(t, err)
	assert.Equal(t, before.TotalSyncs, after.TotalSyncs)
	assert.True(t, after.IsActive)

	// A fresh check sees a brand-new zero state.
	check, err := env.service.Check(testUserKey, 0, domain.EmptyCollectionHash())
	require.NoError(t, err)
	assert.Equal(t, ReasonBothEmpty, check.Reason)
}

func TestGetSyncStatus(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(2))
	require.NoError(t, err)

	status, err := env.service.GetSyncStatus(testUserKey)
	require.NoError(t, err)
	assert.Equal(t, testUserKey, status.UserKey)
	assert.Nil(t, status.SyncLock)
	require.NotNil(t, status.UserMeta)
	assert.Equal(t, int64(2), status.UserMeta.TotalCount)
	assert.NotNil(t, status.BloomFilterStats)

	_, err = env.locks.Acquire(testUserKey, "batch_add")
	require.NoError(t, err)
	status, err = env.service.GetSyncStatus(testUserKey)
	require.NoError(t, err)
	require.NotNil(t, status.SyncLock)
	assert.Equal(t, "batch_add", status.SyncLock.Operation)
}

func TestGetServiceStats(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(3))
	require.NoError(t, err)
	_, err = env.service.AnalyzeDifference(testUserKey, nil)
	require.NoError(t, err)

	stats, err := env.service.GetServiceStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["activeSessions"])
	assert.Equal(t, 1, stats["trackedSessions"])
	assert.Equal(t, 0, stats["syncLocks"])
}

func TestSweepActiveSessions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.BatchAddFingerprints(testUserKey, fingerprintRange(2))
	require.NoError(t, err)
	_, err = env.service.AnalyzeDifference(testUserKey, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, env.service.SweepActiveSessions(time.Hour))
	assert.Equal(t, 1, env.service.SweepActiveSessions(-time.Second))
}
