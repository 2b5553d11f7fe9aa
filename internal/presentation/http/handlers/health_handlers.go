package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/database"
)

// HealthHandlers contains the liveness/readiness probe
type HealthHandlers struct {
	db *database.DB
}

// NewHealthHandlers creates health handlers
func NewHealthHandlers(db *database.DB) *HealthHandlers {
	return &HealthHandlers{db: db}
}

// Health handles GET /health. Readiness is tied to database reachability.
func (h *HealthHandlers) Health(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"database":  "unreachable",
			"timestamp": timestamp(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": timestamp(),
	})
}
