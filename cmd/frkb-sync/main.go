package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frkb/fingerprint-sync-go/internal/application/startup"
	"github.com/frkb/fingerprint-sync-go/internal/infrastructure/caching/cleanup"
	"github.com/frkb/fingerprint-sync-go/internal/presentation/http/server"
	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

func main() {
	c, err := startup.Initialize()
	if err != nil {
		log.Fatalf("Application startup failed: %v", err)
	}
	defer c.Close()

	maintenanceCtx, cancelMaintenance := context.WithCancel(context.Background())
	worker := cleanup.NewWorker(c.SyncService, c.SessionStore, c.PerfTracker, c.Logger)
	go worker.Run(maintenanceCtx)

	srv := server.New(config.Port, c)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	case sig := <-quit:
		c.Logger.Shutdown().Info("Shutdown signal received", "signal", sig.String())
	}

	cancelMaintenance()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}

	c.Logger.Shutdown().Info("Application has shut down gracefully")
	log.Println("Application has shut down gracefully.")
}
