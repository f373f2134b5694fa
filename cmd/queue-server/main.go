package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sungwon/queue-proxy/internal/api"
	"github.com/sungwon/queue-proxy/internal/config"
	"github.com/sungwon/queue-proxy/internal/logger"
	"github.com/sungwon/queue-proxy/internal/queue"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Str("provider", cfg.Queue.Provider).Msg("starting queue server")

	// Select the queue backend once for the process lifetime.
	backend, err := queue.NewBackend(cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue backend")
	}

	svc := queue.NewService(backend, log)
	router := api.NewRouter(svc, log)

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("queue server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down queue server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	// Best-effort transport teardown; consumption loops end with the process.
	if err := svc.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("backend close failed")
	}

	log.Info().Msg("queue server stopped")
}
