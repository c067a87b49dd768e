// Command ingestd runs the ingest pipeline headless behind a local HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docrag-desktop/internal/api"
	"docrag-desktop/internal/config"
	"docrag-desktop/internal/database"
	"docrag-desktop/internal/server"
	"docrag-desktop/internal/services/history"
	"docrag-desktop/internal/services/ingest"
	"docrag-desktop/internal/services/scheduler"
)

// Version is set at build time
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $DOCRAG_CONFIG)")
	keepRuns := flag.Int("keep-runs", 500, "number of finished runs to keep in history (0 keeps none)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Init(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Uploads run on their own context so in-flight files can finish after a signal
	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	defer cancelIngest()

	client := api.NewClient(cfg.APIBaseURL, cfg.APIToken)
	runs := history.NewService(db)
	if removed, err := runs.Prune(ingestCtx, *keepRuns); err != nil {
		log.Printf("WARNING: Failed to prune run history: %v", err)
	} else if removed > 0 {
		log.Printf("Pruned %d old ingest run(s)", removed)
	}
	collector := ingest.NewCollector(cfg.DirBatchSize)
	svc := ingest.NewService(ingestCtx, client, cfg, ingest.WithRecorder(runs))

	sched := scheduler.NewService(db, ingestCtx, svc, collector)
	if err := sched.Start(); err != nil {
		log.Printf("WARNING: Failed to start scheduler: %v", err)
	}

	if _, err := svc.RefreshDocuments(ingestCtx); err != nil {
		log.Printf("WARNING: Indexing service at %s not reachable: %v", cfg.APIBaseURL, err)
	}

	handler := server.NewHandler(svc, collector, client, runs, Version)
	e := server.New(handler, cfg.LogLevel == "DEBUG")

	go func() {
		log.Printf("ingestd %s listening on %s (indexing service %s, %d workers)",
			Version, cfg.ListenAddr, cfg.APIBaseURL, cfg.Concurrency)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}
	sched.Stop()

	waited := make(chan struct{})
	go func() {
		svc.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		log.Println("Timed out waiting for uploads, cancelling")
		cancelIngest()
		<-waited
	}

	log.Println("Shutdown complete")
}
