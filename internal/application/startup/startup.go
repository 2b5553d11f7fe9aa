// Package startup builds the dependency container and prepares the server
// for serving requests.
package startup

import (
	"fmt"
	"time"

	"github.com/frkb/fingerprint-sync-go/internal/application/container"
	"github.com/frkb/fingerprint-sync-go/internal/application/services"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/bloom"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/caching/stores"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/performance"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/database"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/fingerprints"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/meta"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/sessions"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/persistence/userkeys"
	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

// Initialize wires the full dependency container: logger, database, schema,
// repositories, caches, and services.
func Initialize() (*container.Container, error) {
	start := time.Now()

	logger, err := logging.NewChanneledLogger(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Startup().Info("Initializing sync server", "driver", config.DBDriver)

	db, err := database.NewConnectionWithLogger(config.DBDriver, config.DBDataSource, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.NewTableCreator().CreateSchema(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	logger.Startup().Info("Database schema verified")

	fingerprintStore := fingerprints.NewRepository(db, logger)
	metaStore := meta.NewRepository(db, fingerprintStore, logger)
	sessionStore := sessions.NewRepository(db, logger)
	userKeyStore := userkeys.NewRepository(db, logger)

	ephemeralCache, err := stores.NewEphemeralCache(logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ephemeral cache: %w", err)
	}

	bloomCache := bloom.NewCache(fingerprintStore, metaStore, logger)
	tracker := performance.NewTracker(nil)
	lockManager := services.NewSyncLockManager(logger)

	syncService := services.NewSyncService(
		fingerprintStore,
		metaStore,
		sessionStore,
		userKeyStore,
		lockManager,
		bloomCache,
		ephemeralCache,
		tracker,
		logger,
	)
	adminService := services.NewAdminService(userKeyStore, lockManager, ephemeralCache, bloomCache, logger)

	logger.Startup().Info("Sync server initialized",
		"bloomEnabled", config.BloomFilterEnabled,
		"cacheEnabled", config.CacheEnabled,
		"duration", time.Since(start))

	return &container.Container{
		DB:               db,
		Logger:           logger,
		FingerprintStore: fingerprintStore,
		MetaStore:        metaStore,
		SessionStore:     sessionStore,
		UserKeyStore:     userKeyStore,
		EphemeralCache:   ephemeralCache,
		BloomCache:       bloomCache,
		PerfTracker:      tracker,
		LockManager:      lockManager,
		SyncService:      syncService,
		AdminService:     adminService,
	}, nil
}
