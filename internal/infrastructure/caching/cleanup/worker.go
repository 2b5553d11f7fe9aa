// Package cleanup runs the periodic maintenance sweep: stale sync locks,
// aged active-session map entries, expired diff-session rows, and old
// performance markers.
package cleanup

import (
	"context"
	"time"

	"github.com/frkb/fingerprint-sync-go/internal/application/services"
	domain "github.com/frkb/fingerprint-sync-go/internal/domain/sync"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/logging"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/observability/performance"
	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

// Worker is the cancellable maintenance routine.
type Worker struct {
	syncService *services.SyncService
	sessions    domain.SessionStore
	tracker     *performance.Tracker
	logger      *logging.ChanneledLogger

	interval              time.Duration
	staleLockAge          time.Duration
	activeSessionSweepAge time.Duration
}

// NewWorker creates the maintenance worker with configured intervals.
func NewWorker(syncService *services.SyncService, sessions domain.SessionStore, tracker *performance.Tracker, logger *logging.ChanneledLogger) *Worker {
	return &Worker{
		syncService:           syncService,
		sessions:              sessions,
		tracker:               tracker,
		logger:                logger,
		interval:              config.MaintenanceInterval,
		staleLockAge:          config.StaleLockSweepAge,
		activeSessionSweepAge: config.ActiveSessionSweepAge,
	}
}

// Run executes the sweep on the configured interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.System().Info("Maintenance worker started",
		"interval", w.interval,
		"staleLockAge", w.staleLockAge,
		"activeSessionSweepAge", w.activeSessionSweepAge)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Shutdown().Info("Maintenance worker stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep runs one maintenance pass.
func (w *Worker) sweep() {
	start := time.Now()

	evictedLocks := w.syncService.Locks().Sweep(w.staleLockAge)
	sweptSessions := w.syncService.SweepActiveSessions(w.activeSessionSweepAge)

	// SQLite has no TTL index; the reaper keeps expired session rows from
	// accumulating. Find already filters on expiry, so this is purely
	// reclamation.
	reapedSessions, err := w.sessions.DeleteExpired(time.Now())
	if err != nil {
		w.logger.System().Error("Failed to reap expired diff sessions", "error", err.Error())
	}

	w.tracker.Cleanup()

	w.logger.System().Debug("Maintenance sweep completed",
		"evictedLocks", evictedLocks,
		"sweptSessionEntries", sweptSessions,
		"reapedSessions", reapedSessions,
		"duration", time.Since(start))
}
