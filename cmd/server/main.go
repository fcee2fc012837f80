/*
main.go - Application entry point

PURPOSE:
  Starts the simulation server: loads the plan, opens the run archive,
  wires the API handler and serves until interrupted.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load the plan (defaults, optionally overlaid by --plan)
  3. Open the run archive (SQLite, or memory when --db is empty)
  4. Create API handler, metrics and session reaper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --port         HTTP server port (default: 8080)
  --db           SQLite archive path (default: runs.db)
                 Use ":memory:" or "" for a throwaway archive
  --plan         YAML or JSON plan overlay
  --session-ttl  Idle time before a session is dropped (default: 2h)
  --log-level    debug, info, warn or error (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the session reaper
  4. Close database connection

EXAMPLES:
  ./server --db=./data/runs.db --plan=./plans/uz.yaml
  ./server --db="" --port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - factory/plan.go: Plan overlays
  - store/sqlite/sqlite.go: Archive implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/warp/compplan/api"
	"github.com/warp/compplan/archive"
	"github.com/warp/compplan/factory"
	"github.com/warp/compplan/metrics"
	"github.com/warp/compplan/plan"
	"github.com/warp/compplan/store/sqlite"
)

func main() {
	// Flags
	port := pflag.Int("port", 8080, "HTTP server port")
	dbPath := pflag.String("db", "runs.db", "SQLite archive path (empty for in-memory)")
	planPath := pflag.String("plan", "", "YAML or JSON plan overlay")
	sessionTTL := pflag.Duration("session-ttl", 2*time.Hour, "idle time before a session is dropped")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load plan
	cfg := plan.Default()
	if *planPath != "" {
		loaded, err := factory.NewPlanFactory().Load(*planPath)
		if err != nil {
			log.Fatalf("Failed to load plan: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid plan: %v", err)
	}

	// Initialize archive
	var runs archive.Store = archive.NewMemory()
	if *dbPath != "" && *dbPath != ":memory:" {
		store, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()
		runs = store
	}

	// Initialize handler
	m := metrics.New()
	handler := api.NewHandler(cfg, runs, api.WithLogger(logger), api.WithMetrics(m))

	reaper := api.NewSessionReaper(handler)
	reaper.TTL = *sessionTTL
	reaper.Start()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api, metrics at /metrics", *port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	reaper.Stop()

	log.Println("Server stopped")
}
