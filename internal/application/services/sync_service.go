package services

import (
	stdsync "sync"
	"time"

	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/bloom"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/caching/stores"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/performance"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/security"
	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

// Check reasons, first match wins per the decision table in Check.
const (
	ReasonSyncInProgress = "sync_in_progress"
	ReasonBothEmpty      = "both_empty"
	ReasonServerEmpty    = "server_empty"
	ReasonClientEmpty    = "client_empty"
	ReasonCountMismatch  = "count_mismatch"
	ReasonAlreadySynced  = "already_synced"
	ReasonHashMismatch   = "hash_mismatch"
)

// CheckResult is the fast-path sync decision.
type CheckResult struct {
	NeedSync    bool       `json:"needSync"`
	Reason      string     `json:"reason"`
	ServerCount int64      `json:"serverCount"`
	ServerHash  string     `json:"serverHash"`
	LastSyncAt  *time.Time `json:"lastSyncAt"`
	Limit       int64      `json:"limit"`
}

// SessionInfo describes the advisory session created by a batch-0
// bidirectional diff. Nothing consults it afterwards; analyzeDifference is
// the definitive path to client-missing fingerprints.
type SessionInfo struct {
	SessionID              string `json:"sessionId"`
	EstimatedClientMissing int64  `json:"estimatedClientMissing"`
}

// DiffBatchResult is the per-batch outcome of a bidirectional diff round.
type DiffBatchResult struct {
	BatchIndex                 int            `json:"batchIndex"`
	BatchSize                  int            `json:"batchSize"`
	ServerMissingFingerprints  []string       `json:"serverMissingFingerprints"`
	ServerExistingFingerprints []string       `json:"serverExistingFingerprints"`
	MissingCount               int            `json:"missingCount"`
	ExistingCount              int            `json:"existingCount"`
	SessionInfo                *SessionInfo   `json:"sessionInfo,omitempty"`
	BloomFilterStats           map[string]any `json:"bloomFilterStats,omitempty"`
}

// DiffStats summarizes a whole-set difference computation.
type DiffStats struct {
	ClientMissingCount int `json:"clientMissingCount"`
	ServerMissingCount int `json:"serverMissingCount"`
	TotalPages         int `json:"totalPages"`
	PageSize           int `json:"pageSize"`
}

// Recommendations is the advisory next-step hint returned by analyze.
type Recommendations struct {
	Action   string `json:"action"`
	Priority string `json:"priority"`
}

// AnalyzeResult is the outcome of a whole-set diff.
type AnalyzeResult struct {
	DiffSessionID   string          `json:"diffSessionId"`
	DiffStats       DiffStats       `json:"diffStats"`
	ServerStats     map[string]any  `json:"serverStats"`
	Recommendations Recommendations `json:"recommendations"`
}

// PageInfo describes one page of a paginated pull.
type PageInfo struct {
	CurrentPage int  `json:"currentPage"`
	PageSize    int  `json:"pageSize"`
	TotalPages  int  `json:"totalPages"`
	HasMore     bool `json:"hasMore"`
	TotalCount  int  `json:"totalCount"`
}

// PullPageResult is one page of client-missing fingerprints.
type PullPageResult struct {
	SessionID           string   `json:"sessionId"`
	MissingFingerprints []string `json:"missingFingerprints"`
	PageInfo            PageInfo `json:"pageInfo"`
}

// BatchAddResult is the outcome of an idempotent union append.
type BatchAddResult struct {
	AddedCount     int   `json:"addedCount"`
	DuplicateCount int   `json:"duplicateCount"`
	TotalRequested int   `json:"totalRequested"`
	NewTotalCount  int64 `json:"newTotalCount"`
}

// ResetResult reports the before/after state of a user wipe.
type ResetResult struct {
	Before struct {
		FingerprintCount int64          `json:"fingerprintCount"`
		MetaCount        int64          `json:"metaCount"`
		UsageStats       map[string]any `json:"usageStats"`
	} `json:"before"`
	ClearedFingerprints int64 `json:"clearedFingerprints"`
	ClearedMetas        int64 `json:"clearedMetas"`
	DeletedSessions     int64 `json:"deletedSessions"`
	ClearedCache        bool  `json:"clearedCache"`
}

// SyncStatus is the side-effect-free per-user status snapshot.
type SyncStatus struct {
	UserKey          string           `json:"userKey"`
	SyncLock         *domain.SyncLock `json:"syncLock"`
	UserMeta         *domain.UserMeta `json:"userMeta"`
	BloomFilterStats map[string]any   `json:"bloomFilterStats"`
}

// SyncService is the orchestrator for the eight core operations. It owns the
// per-user lock table and the in-memory active-session map.
type SyncService struct {
	fingerprints domain.FingerprintStore
	meta         domain.MetaStore
	sessions     domain.SessionStore
	userKeys     domain.UserKeyStore

	locks     *SyncLockManager
	bloom     *bloom.Cache
	ephemeral *stores.EphemeralCache
	tracker   *performance.Tracker
	logger    *logging.ChanneledLogger

	sessionMu      stdsync.Mutex
	activeSessions map[string]time.Time
}

// NewSyncService wires the sync engine from its collaborators.
func NewSyncService(
	fingerprints domain.FingerprintStore,
	meta domain.MetaStore,
	sessions domain.SessionStore,
	userKeys domain.UserKeyStore,
	locks *SyncLockManager,
	bloomCache *bloom.Cache,
	ephemeral *stores.EphemeralCache,
	tracker *performance.Tracker,
	logger *logging.ChanneledLogger,
) *SyncService {
	return &SyncService{
		fingerprints:   fingerprints,
		meta:           meta,
		sessions:       sessions,
		userKeys:       userKeys,
		locks:          locks,
		bloom:          bloomCache,
		ephemeral:      ephemeral,
		tracker:        tracker,
		logger:         logger,
		activeSessions: make(map[string]time.Time),
	}
}

// Locks exposes the lock manager for the admin surface and maintenance.
func (s *SyncService) Locks() *SyncLockManager {
	return s.locks
}

// admit canonicalizes the user key and verifies it is registered and active.
func (s *SyncService) admit(userKey string) (string, *domain.UserKeyRecord, error) {
	canonical, err := domain.CanonicalUserKey(userKey)
	if err != nil {
		return "", nil, err
	}

	record, err := s.userKeys.Find(canonical)
	if err != nil {
		return "", nil, domain.Internal("failed to look up user key", err)
	}
	if record == nil {
		return "", nil, domain.NewError(domain.CodeUserKeyNotFound, "user key is not registered")
	}
	if !record.IsActive {
		return "", nil, domain.NewError(domain.CodeUserKeyInactive, "user key is deactivated")
	}

	if err := s.userKeys.IncrementRequests(canonical); err != nil {
		s.logger.Auth().Warn("Failed to bump request counter", "userKey", canonical, "error", err.Error())
	}

	return canonical, record, nil
}

// effectiveLimit resolves the user's fingerprint cap.
func effectiveLimit(record *domain.UserKeyRecord) int64 {
	if record.FingerprintLimit > 0 {
		return record.FingerprintLimit
	}
	return int64(config.DefaultFingerprintLimit)
}

// getUserMeta returns the user's meta, preferring the ephemeral snapshot.
func (s *SyncService) getUserMeta(userKey string, marker *performance.Marker) (*domain.UserMeta, error) {
	if cached := s.ephemeral.GetUserMeta(userKey); cached != nil {
		marker.AddCacheHit()
		return cached, nil
	}
	marker.AddCacheMiss()

	meta, err := s.meta.GetOrCreate(userKey)
	if err != nil {
		return nil, domain.Internal("failed to load user meta", err)
	}
	s.ephemeral.SetUserMeta(userKey, meta)
	return meta, nil
}

// serverHash resolves the comparable hash for a meta record. The empty
// string is the never-computed sentinel; a zero-count user compares as the
// empty-set hash.
func serverHash(meta *domain.UserMeta) string {
	if meta.CollectionHash == "" && meta.TotalCount == 0 {
		return domain.EmptyCollectionHash()
	}
	return meta.CollectionHash
}

// Check is the fast-path sync decision. First matching row wins:
// lock held, both empty, server empty, client empty, count mismatch,
// hash match, then the refresh tie-break.
func (s *SyncService) Check(userKey string, clientCount int64, clientHash string) (*CheckResult, error) {
	marker := s.tracker.StartOperation("sync:check", userKey)
	defer marker.Complete()

	canonical, record, err := s.admit(userKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	meta, err := s.getUserMeta(canonical, marker)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	result := &CheckResult{
		ServerCount: meta.TotalCount,
		ServerHash:  serverHash(meta),
		LastSyncAt:  meta.LastSyncAt,
		Limit:       effectiveLimit(record),
	}

	switch {
	case s.locks.Get(canonical) != nil:
		result.Reason = ReasonSyncInProgress
		result.NeedSync = false

	case meta.TotalCount == 0 && clientCount == 0:
		result.Reason = ReasonBothEmpty
		result.NeedSync = false

	case meta.TotalCount == 0:
		result.Reason = ReasonServerEmpty
		result.NeedSync = true

	case clientCount == 0:
		result.Reason = ReasonClientEmpty
		result.NeedSync = true

	case meta.TotalCount != clientCount:
		result.Reason = ReasonCountMismatch
		result.NeedSync = true

	case result.ServerHash == clientHash:
		result.Reason = ReasonAlreadySynced
		result.NeedSync = false

	default:
		// Counts agree but hashes differ: the cached meta may lag behind
		// concurrent inserts. Recompute against live storage and re-compare.
		s.logger.Sync().Debug("Check tie-break, refreshing meta", "userKey", canonical)
		refreshed, err := s.meta.Refresh(canonical)
		if err != nil {
			marker.SetError(err)
			return nil, domain.Internal("failed to refresh user meta", err)
		}
		s.ephemeral.ClearUserCache(canonical)

		result.ServerCount = refreshed.TotalCount
		result.ServerHash = serverHash(refreshed)
		result.LastSyncAt = refreshed.LastSyncAt

		if result.ServerHash == clientHash && refreshed.TotalCount == clientCount {
			result.Reason = ReasonAlreadySynced
			result.NeedSync = false
		} else {
			result.Reason = ReasonHashMismatch
			result.NeedSync = true
		}
	}

	marker.AddMetadata("reason", result.Reason)
	s.logger.Sync().Debug("Check decided",
		"userKey", canonical,
		"reason", result.Reason,
		"needSync", result.NeedSync,
		"serverCount", result.ServerCount,
		"clientCount", clientCount)

	return result, nil
}

// BidirectionalDiff answers one batch of the incremental round-trip diff.
// Read-only; never takes the sync lock.
func (s *SyncService) BidirectionalDiff(userKey string, clientBatch []string, batchIndex, batchSize, estimatedBatchCount int) (*DiffBatchResult, error) {
	marker := s.tracker.StartOperation("sync:bidirectional_diff", userKey)
	defer marker.Complete()

	canonical, _, err := s.admit(userKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	batch, err := domain.NormalizeBatch(clientBatch, config.BatchSize)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	// Bloom pre-filter is advisory; the store query below is authoritative.
	maybe, absent, source, bloomErr := s.bloom.BatchMightContain(canonical, batch)
	if bloomErr != nil {
		s.logger.Bloom().Warn("Bloom pre-filter failed, falling back to store", "userKey", canonical, "error", bloomErr.Error())
	}

	present, err := s.fingerprints.Existing(canonical, batch)
	if err != nil {
		marker.SetError(err)
		return nil, domain.Internal("failed to query existing fingerprints", err)
	}

	presentSet := make(map[string]struct{}, len(present))
	for _, fp := range present {
		presentSet[fp] = struct{}{}
	}

	result := &DiffBatchResult{
		BatchIndex: batchIndex,
		BatchSize:  batchSize,
		ServerMissingFingerprints:  make([]string, 0, len(batch)-len(present)),
		ServerExistingFingerprints: make([]string, 0, len(present)),
		BloomFilterStats: map[string]any{
			"source":           source,
			"prefilteredCount": len(absent),
			"maybePresent":     len(maybe),
		},
	}

	for _, fp := range batch {
		if _, ok := presentSet[fp]; ok {
			result.ServerExistingFingerprints = append(result.ServerExistingFingerprints, fp)
		} else {
			result.ServerMissingFingerprints = append(result.ServerMissingFingerprints, fp)
		}
	}
	result.MissingCount = len(result.ServerMissingFingerprints)
	result.ExistingCount = len(result.ServerExistingFingerprints)

	if batchIndex == 0 {
		sessionInfo, err := s.maybeCreateAdvisorySession(canonical, batchSize, estimatedBatchCount)
		if err != nil {
			// The advisory session is a hint; the diff answer stands.
			s.logger.Session().Warn("Failed to create advisory diff session", "userKey", canonical, "error", err.Error())
		} else {
			result.SessionInfo = sessionInfo
		}
	}

	marker.AddMetadata("missingCount", result.MissingCount)
	return result, nil
}

// maybeCreateAdvisorySession creates an empty session on batch 0 when the
// server plausibly holds fingerprints the client has never seen. The session
// only signals that an analyzeDifference round is worthwhile.
func (s *SyncService) maybeCreateAdvisorySession(userKey string, batchSize, estimatedBatchCount int) (*SessionInfo, error) {
	serverCount, err := s.fingerprints.Count(userKey)
	if err != nil {
		return nil, err
	}

	estimatedClientTotal := int64(batchSize) * int64(estimatedBatchCount)
	estimatedMissing := serverCount - estimatedClientTotal
	if estimatedMissing <= 0 {
		return nil, nil
	}

	now := time.Now()
	session := &domain.DiffSession{
		SessionID:       security.GenerateSessionID(),
		UserKey:         userKey,
		MissingInClient: []string{},
		MissingInServer: []string{},
		TotalServer:     int(serverCount),
		CreatedAt:       now,
		ExpiresAt:       now.Add(config.DiffSessionTTL),
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}

	s.trackSession(session.SessionID)
	s.ephemeral.SetDiffSession(session)

	return &SessionInfo{
		SessionID:              session.SessionID,
		EstimatedClientMissing: estimatedMissing,
	}, nil
}

// AnalyzeDifference computes the whole-set difference and persists it as a
// paginatable diff session. Read-only with respect to fingerprints; never
// takes the sync lock.
func (s *SyncService) AnalyzeDifference(userKey string, clientFingerprints []string) (*AnalyzeResult, error) {
	marker := s.tracker.StartOperation("sync:analyze_diff", userKey)
	defer marker.Complete()

	canonical, _, err := s.admit(userKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	clientSet, err := domain.NormalizeSet(clientFingerprints, config.MaxAnalyzeFingerprints)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	serverSet, err := s.fingerprints.Enumerate(canonical)
	if err != nil {
		marker.SetError(err)
		return nil, domain.Internal("failed to enumerate fingerprints", err)
	}

	clientIndex := make(map[string]struct{}, len(clientSet))
	for _, fp := range clientSet {
		clientIndex[fp] = struct{}{}
	}
	serverIndex := make(map[string]struct{}, len(serverSet))
	for _, fp := range serverSet {
		serverIndex[fp] = struct{}{}
	}

	missingInClient := make([]string, 0)
	for _, fp := range serverSet {
		if _, ok := clientIndex[fp]; !ok {
			missingInClient = append(missingInClient, fp)
		}
	}
	missingInServer := make([]string, 0)
	for _, fp := range clientSet {
		if _, ok := serverIndex[fp]; !ok {
			missingInServer = append(missingInServer, fp)
		}
	}

	now := time.Now()
	session := &domain.DiffSession{
		SessionID:       security.GenerateSessionID(),
		UserKey:         canonical,
		MissingInClient: missingInClient,
		MissingInServer: missingInServer,
		TotalClient:     len(clientSet),
		TotalServer:     len(serverSet),
		CreatedAt:       now,
		ExpiresAt:       now.Add(config.DiffSessionTTL),
	}
	if err := s.sessions.Create(session); err != nil {
		marker.SetError(err)
		return nil, domain.Internal("failed to create diff session", err)
	}
	s.trackSession(session.SessionID)
	s.ephemeral.SetDiffSession(session)

	if len(missingInClient) == 0 && len(missingInServer) == 0 {
		// Already converged: refresh meta so the next check answers
		// already_synced immediately. Best effort; the analyze answer stands.
		if _, err := s.meta.Refresh(canonical); err != nil {
			s.logger.Sync().Warn("Post-analyze meta refresh failed", "userKey", canonical, "error", err.Error())
		}
		s.ephemeral.ClearUserCache(canonical)
	}

	pageSize := config.DefaultPageSize
	totalPages := (len(missingInClient) + pageSize - 1) / pageSize

	result := &AnalyzeResult{
		DiffSessionID: session.SessionID,
		DiffStats: DiffStats{
			ClientMissingCount: len(missingInClient),
			ServerMissingCount: len(missingInServer),
			TotalPages:         totalPages,
			PageSize:           pageSize,
		},
		ServerStats: map[string]any{
			"totalServer": len(serverSet),
			"totalClient": len(clientSet),
		},
		Recommendations: recommend(len(missingInClient), len(missingInServer)),
	}

	marker.AddMetadata("clientMissing", len(missingInClient))
	marker.AddMetadata("serverMissing", len(missingInServer))
	s.logger.Sync().Info("Analyzed set difference",
		"userKey", canonical,
		"sessionId", session.SessionID,
		"clientMissing", len(missingInClient),
		"serverMissing", len(missingInServer))

	return result, nil
}

// recommend derives the advisory next-step hint.
func recommend(missingInClient, missingInServer int) Recommendations {
	rec := Recommendations{Action: "bidirectional", Priority: "normal"}
	switch {
	case missingInClient == 0 && missingInServer > 0:
		rec.Action = "push"
	case missingInServer == 0 && missingInClient > 0:
		rec.Action = "pull"
	case missingInClient == 0 && missingInServer == 0:
		rec.Action = "none"
	}
	if missingInClient > 10000 || missingInServer > 10000 {
		rec.Priority = "high"
	}
	return rec
}

// PullDiffPage returns one stable, sorted page of client-missing
// fingerprints from a live diff session.
func (s *SyncService) PullDiffPage(userKey, sessionID string, pageIndex int) (*PullPageResult, error) {
	marker := s.tracker.StartOperation("sync:pull_diff_page", userKey)
	defer marker.Complete()

	canonical, _, err := s.admit(userKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	session := s.ephemeral.GetDiffSession(sessionID)
	if session != nil {
		marker.AddCacheHit()
	} else {
		marker.AddCacheMiss()
		session, err = s.sessions.Find(sessionID)
		if err != nil {
			marker.SetError(err)
			return nil, domain.Internal("failed to find diff session", err)
		}
	}
	if session == nil {
		notFound := domain.NewError(domain.CodeDiffSessionNotFound, "diff session not found or expired").
			WithDetail("retryAfter", int(config.DiffSessionTTL.Seconds()))
		marker.SetError(notFound)
		return nil, notFound
	}
	if session.UserKey != canonical {
		mismatch := domain.NewError(domain.CodeDiffSessionUserMismatch, "diff session belongs to another user")
		marker.SetError(mismatch)
		return nil, mismatch
	}

	// Sort on first page; later pages reuse the persisted projection so the
	// order is stable across concurrent fetches.
	sorted := session.SortedMissingInClient
	if len(sorted) != len(session.MissingInClient) {
		sorted = domain.SortedCopy(session.MissingInClient)
		if err := s.sessions.RecordSortedView(session.SessionID, sorted); err != nil {
			s.logger.Session().Warn("Failed to persist sorted view", "sessionId", session.SessionID, "error", err.Error())
		}
		session.SortedMissingInClient = sorted
		s.ephemeral.SetDiffSession(session)
	}

	pageSize := config.DefaultPageSize
	totalPages := (len(sorted) + pageSize - 1) / pageSize

	if pageIndex < 0 {
		pageIndex = 0
	}
	if totalPages > 0 && pageIndex >= totalPages {
		pageIndex = totalPages - 1
	}

	start := pageIndex * pageSize
	end := start + pageSize
	if start > len(sorted) {
		start = len(sorted)
	}
	if end > len(sorted) {
		end = len(sorted)
	}

	return &PullPageResult{
		SessionID:           session.SessionID,
		MissingFingerprints: sorted[start:end],
		PageInfo: PageInfo{
			CurrentPage: pageIndex,
			PageSize:    pageSize,
			TotalPages:  totalPages,
			HasMore:     pageIndex < totalPages-1,
			TotalCount:  len(sorted),
		},
	}, nil
}

// BatchAddFingerprints appends a batch under the sync lock. Duplicates are
// counted, never fatal; re-submitting a batch is a no-op on server state.
func (s *SyncService) BatchAddFingerprints(userKey string, fingerprints []string) (*BatchAddResult, error) {
	marker := s.tracker.StartOperation("sync:batch_add", userKey)
	defer marker.Complete()
	start := time.Now()

	canonical, record, err := s.admit(userKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	batch, err := domain.NormalizeBatch(fingerprints, config.BatchSize)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	lock, err := s.locks.Acquire(canonical, "batch_add")
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	defer s.locks.Release(canonical, lock.LockID)

	meta, err := s.meta.GetOrCreate(canonical)
	if err != nil {
		marker.SetError(err)
		return nil, domain.Internal("failed to load user meta", err)
	}

	if limit := effectiveLimit(record); limit > 0 && meta.TotalCount+int64(len(batch)) > limit {
		limitErr := domain.NewErrorf(domain.CodeFingerprintLimitExceeded,
			"adding %d fingerprints would exceed the limit of %d", len(batch), limit).
			WithDetail("currentCount", meta.TotalCount).
			WithDetail("limit", limit)
		marker.SetError(limitErr)
		return nil, limitErr
	}

	batchResult, err := s.fingerprints.InsertBatch(canonical, batch)
	if err != nil {
		marker.SetError(err)
		return nil, domain.Internal("failed to insert fingerprint batch", err)
	}

	updated, err := s.meta.ApplyDelta(canonical, batchResult.InsertedCount, time.Since(start))
	if err != nil {
		marker.SetError(err)
		return nil, domain.Internal("failed to update user meta", err)
	}

	if batchResult.InsertedCount > 0 {
		// The filter is idempotent; adding the duplicates too is harmless.
		s.bloom.AddFingerprints(canonical, batch)
	}

	s.ephemeral.ClearUserCache(canonical)

	if err := s.userKeys.IncrementSyncs(canonical); err != nil {
		s.logger.Sync().Warn("Failed to bump sync counter", "userKey", canonical, "error", err.Error())
	}

	marker.AddMetadata("inserted", batchResult.InsertedCount)
	marker.AddMetadata("duplicates", batchResult.DuplicateCount)
	s.logger.Sync().Info("Batch add completed",
		"userKey", canonical,
		"inserted", batchResult.InsertedCount,
		"duplicates", batchResult.DuplicateCount,
		"newTotal", updated.TotalCount,
		"duration", time.Since(start))

	return &BatchAddResult{
		AddedCount:     batchResult.InsertedCount,
		DuplicateCount: batchResult.DuplicateCount,
		TotalRequested: len(batch),
		NewTotalCount:  updated.TotalCount,
	}, nil
}

// ResetUserData wipes a user's fingerprints, meta, sessions, and caches
// under the sync lock. The whitelist record and its usage counters survive.
func (s *SyncService) ResetUserData(userKey, notes string) (*ResetResult, error) {
	marker := s.tracker.StartOperation("sync:reset", userKey)
	defer marker.Complete()

	canonical, record, err := s.admit(userKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	lock, err := s.locks.Acquire(canonical, "reset")
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	defer s.locks.Release(canonical, lock.LockID)

	result := &ResetResult{}
	result.Before.UsageStats = map[string]any{
		"totalRequests": record.TotalRequests,
		"totalSyncs":    record.TotalSyncs,
	}

	if count, err := s.fingerprints.Count(canonical); err == nil {
		result.Before.FingerprintCount = count
	}
	if meta, err := s.meta.GetOrCreate(canonical); err == nil && meta != nil {
		result.Before.MetaCount = 1
	}

	// Each step proceeds regardless of earlier failures; the fingerprint
	// purge is the only one whose failure fails the request.
	var purgeErr error
	if result.ClearedFingerprints, purgeErr = s.fingerprints.PurgeUser(canonical); purgeErr != nil {
		s.logger.Sync().Error("Failed to purge fingerprints during reset", "userKey", canonical, "error", purgeErr.Error())
	}
	if cleared, err := s.meta.Delete(canonical); err != nil {
		s.logger.Sync().Error("Failed to delete meta during reset", "userKey", canonical, "error", err.Error())
	} else {
		result.ClearedMetas = cleared
	}
	if deleted, err := s.sessions.DeleteByUser(canonical); err != nil {
		s.logger.Sync().Error("Failed to delete sessions during reset", "userKey", canonical, "error", err.Error())
	} else {
		result.DeletedSessions = deleted
	}
	s.bloom.Clear(canonical)
	s.ephemeral.ClearUserCache(canonical)
	result.ClearedCache = true

	if purgeErr != nil {
		internal := domain.Internal("failed to purge user fingerprints", purgeErr)
		marker.SetError(internal)
		return nil, internal
	}

	s.logger.Sync().Info("User data reset",
		"userKey", canonical,
		"clearedFingerprints", result.ClearedFingerprints,
		"deletedSessions", result.DeletedSessions,
		"notes", notes)

	return result, nil
}

// GetSyncStatus returns the per-user status snapshot.
func (s *SyncService) GetSyncStatus(userKey string) (*SyncStatus, error) {
	marker := s.tracker.StartOperation("sync:status", userKey)
	defer marker.Complete()

	canonical, _, err := s.admit(userKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	meta, err := s.getUserMeta(canonical, marker)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	return &SyncStatus{
		UserKey:          canonical,
		SyncLock:         s.locks.Get(canonical),
		UserMeta:         meta,
		BloomFilterStats: s.bloom.StatsFor(canonical),
	}, nil
}

// GetServiceStats aggregates service-wide counters.
func (s *SyncService) GetServiceStats() (map[string]any, error) {
	activeSessions, err := s.sessions.CountActive()
	if err != nil {
		return nil, domain.Internal("failed to count active sessions", err)
	}

	s.sessionMu.Lock()
	trackedSessions := len(s.activeSessions)
	s.sessionMu.Unlock()

	return map[string]any{
		"activeSessions":  activeSessions,
		"trackedSessions": trackedSessions,
		"syncLocks":       s.locks.Count(),
		"cache":           s.ephemeral.Stats(),
		"bloomFilters":    s.bloom.Stats(),
		"tracker":         s.tracker.GetOverallStats(),
	}, nil
}

// trackSession records a created session in the in-memory map the
// maintenance sweep ages out.
func (s *SyncService) trackSession(sessionID string) {
	s.sessionMu.Lock()
	s.activeSessions[sessionID] = time.Now()
	s.sessionMu.Unlock()
}

// SweepActiveSessions drops tracked-session entries older than maxAge and
// reports how many were removed.
func (s *SyncService) SweepActiveSessions(maxAge time.Duration) int {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for sessionID, createdAt := range s.activeSessions {
		if createdAt.Before(cutoff) {
			delete(s.activeSessions, sessionID)
			removed++
		}
	}
	return removed
}
