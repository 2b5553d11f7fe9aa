// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frkb/fingerprint-sync-go/internal/application/services"
	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/performance"
)

// SyncHandlers contains all sync-related HTTP handlers
type SyncHandlers struct {
	syncService *services.SyncService
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewSyncHandlers creates sync handlers with injected dependencies
func NewSyncHandlers(syncService *services.SyncService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *SyncHandlers {
	return &SyncHandlers{
		syncService: syncService,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// perfInfo is the per-response timing block.
func perfInfo(start time.Time) gin.H {
	return gin.H{"durationMs": time.Since(start).Milliseconds()}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// respondError maps a typed engine error onto the wire; anything untyped is
// surfaced as INTERNAL_ERROR without leaking the cause.
func respondError(c *gin.Context, logger *logging.ChanneledLogger, err error) {
	if typed, ok := domain.AsError(err); ok {
		body := gin.H{
			"success":   false,
			"error":     typed.Code,
			"message":   typed.Message,
			"timestamp": timestamp(),
		}
		if len(typed.Details) > 0 {
			body["details"] = typed.Details
		}
		c.JSON(typed.Status(), body)
		return
	}

	logger.System().Error("Unhandled error reached transport", "error", err.Error(), "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success":   false,
		"error":     domain.CodeInternalError,
		"message":   "internal error",
		"timestamp": timestamp(),
	})
}

// CheckRequest is the fast-path decision request body.
type CheckRequest struct {
	UserKey string `json:"userKey" binding:"required"`
	Count   int64  `json:"count"`
	Hash    string `json:"hash"`
}

// Check handles POST /check.
func (h *SyncHandlers) Check(c *gin.Context) {
	start := time.Now()

	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "invalid request body"))
		return
	}

	result, err := h.syncService.Check(req.UserKey, req.Count, req.Hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"needSync":    result.NeedSync,
		"reason":      result.Reason,
		"serverCount": result.ServerCount,
		"serverHash":  result.ServerHash,
		"lastSyncAt":  result.LastSyncAt,
		"limit":       result.Limit,
		"performance": perfInfo(start),
		"timestamp":   timestamp(),
	})
}

// BidirectionalDiffRequest is one batch of the incremental diff.
type BidirectionalDiffRequest struct {
	UserKey             string   `json:"userKey" binding:"required"`
	ClientFingerprints  []string `json:"clientFingerprints" binding:"required"`
	BatchIndex          int      `json:"batchIndex"`
	BatchSize           int      `json:"batchSize"`
	EstimatedBatchCount int      `json:"estimatedBatchCount"`
}

// BidirectionalDiff handles POST /bidirectional-diff.
func (h *SyncHandlers) BidirectionalDiff(c *gin.Context) {
	start := time.Now()

	var req BidirectionalDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "invalid request body"))
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = len(req.ClientFingerprints)
	}
	if req.EstimatedBatchCount <= 0 {
		req.EstimatedBatchCount = req.BatchIndex + 1
	}

	result, err := h.syncService.BidirectionalDiff(req.UserKey, req.ClientFingerprints, req.BatchIndex, req.BatchSize, req.EstimatedBatchCount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	body := gin.H{
		"success":                    true,
		"batchIndex":                 result.BatchIndex,
		"batchSize":                  result.BatchSize,
		"serverMissingFingerprints":  result.ServerMissingFingerprints,
		"serverExistingFingerprints": result.ServerExistingFingerprints,
		"counts": gin.H{
			"missing":  result.MissingCount,
			"existing": result.ExistingCount,
		},
		"performance": perfInfo(start),
		"timestamp":   timestamp(),
	}
	if result.SessionInfo != nil {
		body["sessionInfo"] = result.SessionInfo
	}
	if result.BloomFilterStats != nil {
		body["bloomFilterStats"] = result.BloomFilterStats
	}

	c.JSON(http.StatusOK, body)
}

// AddRequest is the idempotent union-append request body.
type AddRequest struct {
	UserKey         string   `json:"userKey" binding:"required"`
	AddFingerprints []string `json:"addFingerprints" binding:"required"`
}

// Add handles POST /add.
func (h *SyncHandlers) Add(c *gin.Context) {
	start := time.Now()

	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "invalid request body"))
		return
	}

	result, err := h.syncService.BatchAddFingerprints(req.UserKey, req.AddFingerprints)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"addedCount":     result.AddedCount,
		"duplicateCount": result.DuplicateCount,
		"totalRequested": result.TotalRequested,
		"batchResult":    result,
		"performance":    perfInfo(start),
		"timestamp":      timestamp(),
	})
}

// AnalyzeDiffRequest is the whole-set diff request body.
type AnalyzeDiffRequest struct {
	UserKey            string   `json:"userKey" binding:"required"`
	ClientFingerprints []string `json:"clientFingerprints"`
}

// AnalyzeDiff handles POST /analyze-diff.
func (h *SyncHandlers) AnalyzeDiff(c *gin.Context) {
	start := time.Now()

	var req AnalyzeDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "invalid request body"))
		return
	}

	result, err := h.syncService.AnalyzeDifference(req.UserKey, req.ClientFingerprints)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"diffSessionId":   result.DiffSessionID,
		"diffStats":       result.DiffStats,
		"serverStats":     result.ServerStats,
		"recommendations": result.Recommendations,
		"performance":     perfInfo(start),
		"timestamp":       timestamp(),
	})
}

// PullDiffPageRequest is the paginated pull request body.
type PullDiffPageRequest struct {
	UserKey       string `json:"userKey" binding:"required"`
	DiffSessionID string `json:"diffSessionId" binding:"required"`
	PageIndex     int    `json:"pageIndex"`
}

// PullDiffPage handles POST /pull-diff-page.
func (h *SyncHandlers) PullDiffPage(c *gin.Context) {
	start := time.Now()

	var req PullDiffPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "invalid request body"))
		return
	}

	result, err := h.syncService.PullDiffPage(req.UserKey, req.DiffSessionID, req.PageIndex)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"sessionId":           result.SessionID,
		"missingFingerprints": result.MissingFingerprints,
		"pageInfo":            result.PageInfo,
		"performance":         perfInfo(start),
		"timestamp":           timestamp(),
	})
}

// ResetRequest is the user-wipe request body.
type ResetRequest struct {
	UserKey string `json:"userKey" binding:"required"`
	Notes   string `json:"notes"`
}

// Reset handles POST /reset.
func (h *SyncHandlers) Reset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "invalid request body"))
		return
	}

	result, err := h.syncService.ResetUserData(req.UserKey, req.Notes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "user data reset",
		"before":  result.Before,
		"result": gin.H{
			"clearedFingerprints": result.ClearedFingerprints,
			"clearedMetas":        result.ClearedMetas,
			"deletedSessions":     result.DeletedSessions,
			"clearedCache":        result.ClearedCache,
		},
		"timestamp": timestamp(),
	})
}

// Status handles GET /status?userKey=…
func (h *SyncHandlers) Status(c *gin.Context) {
	userKey := c.Query("userKey")
	if userKey == "" {
		respondError(c, h.logger, domain.NewError(domain.CodeInvalidUserKey, "userKey query parameter is required"))
		return
	}

	status, err := h.syncService.GetSyncStatus(userKey)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"userKey":          status.UserKey,
		"syncStatus":       status.SyncLock,
		"userMeta":         status.UserMeta,
		"bloomFilterStats": status.BloomFilterStats,
		"timestamp":        timestamp(),
	})
}
