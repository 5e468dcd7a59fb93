package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mnemo-ai/mnemo/internal/archive"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/httpapi"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/protocol"
	"github.com/mnemo-ai/mnemo/internal/session"
	"github.com/mnemo-ai/mnemo/internal/tokens"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	hub := httpapi.NewEventHub()
	defer hub.Close()

	// Every component publishes lifecycle events through one fan-out:
	// metrics first, then the websocket feed.
	publish := func(evt protocol.Event) {
		switch evt.Type {
		case protocol.TypeSessionPruned:
			metrics.MessagesPruned.Add(float64(evt.PrunedCount))
		case protocol.TypeSessionArchived:
			metrics.SessionsArchived.Inc()
		}
		hub.Publish(evt)
	}

	embedder, err := embedding.New(embedding.Config{
		Provider: cfg.EmbeddingProvider,
		BaseURL:  cfg.EmbeddingBaseURL,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.EmbeddingAPIKey,
		Dims:     cfg.EmbeddingDim,
	})
	if err != nil {
		log.Fatalf("embedding provider init failed: %v", err)
	}

	ctx := context.Background()
	index, err := memory.NewIndex(ctx, cfg.DatabaseURL, embedder.Dims())
	if err != nil {
		log.Fatalf("vector index init failed: %v", err)
	}
	defer index.Close()

	memories := memory.NewLongTermStore(embedder, index, memory.Options{
		TopK:          cfg.RecallTopK,
		MinSimilarity: cfg.RecallMinSimilarity,
	}, publish)

	sessions, err := session.Open(cfg.StorageDir, tokens.NewCounter(), publish)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	if skipped := sessions.RecoverySkippedCount(); skipped > 0 {
		metrics.RecoverySkipped.Add(float64(skipped))
		metrics.ObserveIndicator("recovery_skipped")
	}

	archiver := archive.NewManager(sessions, memories, cfg.SessionIdleTimeout, cfg.ArchivalSweepInterval, publish)
	archiver.OnSweep(func(archived int, elapsed time.Duration) {
		metrics.ObserveSweep(elapsed)
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})
	if err := archiver.Start(); err != nil {
		log.Fatalf("archival manager init failed: %v", err)
	}

	api := httpapi.New(cfg, sessions, memories, metrics, hub)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s (storage %s)", cfg.BindAddr, cfg.StorageDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	// Stop the sweep first so nothing new enters the stores, then drain
	// in-flight appends.
	archiver.Stop()
	sessions.Close()

	log.Printf("shutdown complete")
}
