// Package main is the entry point for the accounts API server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration
// 2. Create dependencies (logger, stores)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// This project has two: cmd/server and cmd/createadmin.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/accounts/internal/config"
	"github.com/sakif/accounts/internal/logger"
	"github.com/sakif/accounts/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// .env first (if present), then the real environment, then defaults.
	// A bad value stops the process before anything is opened.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT=json for log shippers, text for a terminal.
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	// === 3. CREATE AND START THE SERVER ===
	// server.New opens the store, runs migrations and connects the token cache.
	srv, err := server.New(context.Background(), cfg, log)
	if err != nil {
		log.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
