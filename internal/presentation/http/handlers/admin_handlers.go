package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frkb/fingerprint-sync-go/internal/application/services"
	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
)

// AdminHandlers contains operator HTTP handlers
type AdminHandlers struct {
	adminService *services.AdminService
	syncService  *services.SyncService
	logger       *logging.ChanneledLogger
}

// NewAdminHandlers creates admin handlers with injected dependencies
func NewAdminHandlers(adminService *services.AdminService, syncService *services.SyncService, logger *logging.ChanneledLogger) *AdminHandlers {
	return &AdminHandlers{
		adminService: adminService,
		syncService:  syncService,
		logger:       logger,
	}
}

// LoginRequest is the admin credential body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /admin/login.
func (h *AdminHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "username and password are required"})
		return
	}

	token, err := h.adminService.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     token,
		"timestamp": timestamp(),
	})
}

// RegisterUserKeyRequest registers a new whitelist entry.
type RegisterUserKeyRequest struct {
	UserKey          string `json:"userKey" binding:"required"`
	FingerprintLimit int64  `json:"fingerprintLimit"`
	Notes            string `json:"notes"`
}

// RegisterUserKey handles POST /admin/user-keys.
func (h *AdminHandlers) RegisterUserKey(c *gin.Context) {
	var req RegisterUserKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "invalid request body"))
		return
	}

	record, err := h.adminService.RegisterUserKey(req.UserKey, req.FingerprintLimit, req.Notes)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"userKey":   record,
		"timestamp": timestamp(),
	})
}

// ListUserKeys handles GET /admin/user-keys.
func (h *AdminHandlers) ListUserKeys(c *gin.Context) {
	records, err := h.adminService.ListUserKeys()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"userKeys":  records,
		"count":     len(records),
		"timestamp": timestamp(),
	})
}

// SetUserKeyActiveRequest flips a key's admission flag.
type SetUserKeyActiveRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// SetUserKeyActive handles PUT /admin/user-keys/:userKey/active.
func (h *AdminHandlers) SetUserKeyActive(c *gin.Context) {
	var req SetUserKeyActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, domain.NewError(domain.CodeValidationError, "isActive is required"))
		return
	}

	if err := h.adminService.SetUserKeyActive(c.Param("userKey"), *req.IsActive); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"isActive":  *req.IsActive,
		"timestamp": timestamp(),
	})
}

// ForceUnlock handles DELETE /lock/:userKey (admin).
func (h *AdminHandlers) ForceUnlock(c *gin.Context) {
	released, err := h.adminService.ForceUnlock(c.Param("userKey"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"released":  released,
		"timestamp": timestamp(),
	})
}

// ClearCache handles DELETE /cache/:userKey.
func (h *AdminHandlers) ClearCache(c *gin.Context) {
	if err := h.adminService.ClearUserCache(c.Param("userKey")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"timestamp": timestamp(),
	})
}

// ServiceStats handles GET /admin/service-stats.
func (h *AdminHandlers) ServiceStats(c *gin.Context) {
	stats, err := h.syncService.GetServiceStats()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"stats":     stats,
		"timestamp": timestamp(),
	})
}
