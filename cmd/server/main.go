/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load YAML config with environment overrides
  3. Initialize store (SQLite or in-memory)
  4. Create ledger service and API handler
  5. Start the expiration sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to YAML config file (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Empty uses an in-memory store; ":memory:" uses in-memory SQLite

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/points.db"

  # Run with a config file
  ./server -config=./config.yaml

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/ledger"
	memstore "github.com/warp/points-ledger/ledger/store"
	"github.com/warp/points-ledger/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.HTTPPort = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	// Initialize store
	var txStore ledger.TxStore
	if cfg.DBPath == "" {
		log.Println("No database path configured, using in-memory store")
		txStore = memstore.NewTxMemory()
	} else {
		sqlStore, err := sqlite.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer sqlStore.Close()
		txStore = sqlStore
	}

	// Initialize service and handler
	svc := ledger.NewService(txStore, ledger.Config{
		MinRedeem:          ledger.Points(cfg.Ledger.MinRedeem),
		MaxRedeem:          ledger.Points(cfg.Ledger.MaxRedeem),
		LockTimeout:        cfg.Ledger.LockTimeout,
		MaxConflictRetries: cfg.Ledger.MaxConflictRetries,
	})
	handler := api.NewHandler(svc)

	// Background expiration sweeper
	sweeper := api.NewExpirationSweeper(svc)
	sweeper.Interval = cfg.Sweep.Interval
	sweeper.Enabled = cfg.Sweep.Enabled
	sweeper.Start()
	defer sweeper.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.HTTPPort)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
