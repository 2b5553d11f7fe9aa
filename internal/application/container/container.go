// Package container provides dependency injection for the sync server.
package container

import (
	"github.com/frkb/fingerprint-sync-go/internal/application/services"
	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/bloom"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/caching/stores"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/performance"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/database"
)

// Container holds all application dependencies, wired once at startup.
type Container struct {
	DB     *database.DB
	Logger *logging.ChanneledLogger

	FingerprintStore domain.FingerprintStore
	MetaStore        domain.MetaStore
	SessionStore     domain.SessionStore
	UserKeyStore     domain.UserKeyStore

	EphemeralCache *stores.EphemeralCache
	BloomCache     *bloom.Cache
	PerfTracker    *performance.Tracker
	LockManager    *services.SyncLockManager

	SyncService  *services.SyncService
	AdminService *services.AdminService
}

// Close releases the container's resources.
func (c *Container) Close() error {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			return err
		}
	}
	return nil
}
