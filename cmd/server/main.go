/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the order ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create API handler and due scanner
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags take their defaults from the environment, so either works:
    -port / PORT                 HTTP server port (default: 8080)
    -db / DB_PATH                SQLite database path (default: orders.db)
                                 Use ":memory:" for an in-memory database
    -prefix / CODE_PREFIX        Order code prefix (default: OTK)
    -due-schedule / DUE_SCAN_SCHEDULE
                                 Cron expression for the due sweep

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the due scanner
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/orders.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/otk/order-ledger/api"
	"github.com/otk/order-ledger/ledger"
	"github.com/otk/order-ledger/store/sqlite"
)

func main() {
	// .env is optional; flags still override.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "orders.db"), "SQLite database path")
	prefix := flag.String("prefix", envStr("CODE_PREFIX", ledger.DefaultCodePrefix), "Order code prefix")
	dueSchedule := flag.String("due-schedule", envStr("DUE_SCAN_SCHEDULE", ""), "Cron expression for the due sweep")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Initialize handler and due scanner
	handler := api.NewHandler(store)
	handler.Engine.Prefix = *prefix

	scanner := api.NewDueScanner(store)
	if *dueSchedule != "" {
		scanner.Schedule = *dueSchedule
	}
	if err := scanner.Start(); err != nil {
		log.Fatalf("Failed to start due scanner: %v", err)
	}
	defer scanner.Stop()

	// Create router
	router := api.NewRouter(handler, scanner)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
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

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
