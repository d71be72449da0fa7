package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nudgelabs/nudgesync/cmd/server/service"
	"github.com/nudgelabs/nudgesync/internal/config"
	"github.com/nudgelabs/nudgesync/internal/database"
	"github.com/nudgelabs/nudgesync/internal/objectstore"
	"github.com/nudgelabs/nudgesync/internal/pipeline"
	"github.com/nudgelabs/nudgesync/internal/scriptrunner"
)

// ServeCmd starts the HTTP server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nudgesync server",
	Long:  `Start the HTTP server that orchestrates pipeline runs and serves sync state.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("Starting nudgesync server...")

	ctx := context.Background()

	// Load configuration from environment variables.
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize database client.
	dbClient, err := database.NewClient(ctx, cfg.Database.URI, cfg.Database.Database, cfg.Database.AnalyticsDatabase)
	if err != nil {
		return fmt.Errorf("failed to create database client: %w", err)
	}
	defer dbClient.Close(context.Background())
	log.Printf("Connected to database: %s (analytics: %s)", cfg.Database.Database, cfg.Database.AnalyticsDatabase)

	// Initialize object store.
	objects := objectstore.NewStore(cfg.ObjectStore)
	log.Printf("Initialized object store in region %s (upload=%s, processed=%s)",
		cfg.ObjectStore.Region, cfg.ObjectStore.UploadBucket, cfg.ObjectStore.ProcessedBucket)

	// Load pipeline script configuration.
	scripts, err := config.LoadScriptConfig(cfg.ScriptConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load script config: %w", err)
	}
	log.Printf("Loaded script config from: %s", cfg.ScriptConfigPath)
	log.Printf("Step timeouts: extract=%s, transform=%s, cleanup=%s, quality=%s",
		scripts.Extract.Timeout(), scripts.Transform.Timeout(), scripts.Cleanup.Timeout(), scripts.Quality.Timeout())

	runner := scriptrunner.New()
	orchestrator := pipeline.NewOrchestrator(dbClient, dbClient, runner, objects, scripts, cfg.ObjectStore)
	reconciler := pipeline.NewReconciler(dbClient, objects, cfg.ObjectStore)

	svc := service.NewService(dbClient, dbClient, dbClient, objects, orchestrator, reconciler, cfg.ObjectStore)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Schedule the reconciliation sweep for runs whose completion signal is
	// an object landing in the processed bucket.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.ReconcileSchedule, func() {
		if err := reconciler.Sweep(sigCtx); err != nil {
			log.Printf("Reconciliation sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", cfg.ReconcileSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Printf("Reconciliation sweep scheduled: %s", cfg.ReconcileSchedule)

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    addr,
		Handler: svc.Router(cfg.AllowedOrigins),
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	// Let in-flight pipeline runs write their terminal state.
	log.Println("Waiting for in-flight pipeline runs...")
	orchestrator.Wait()

	log.Println("Server stopped")
	return nil
}
