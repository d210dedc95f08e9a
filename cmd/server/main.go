/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server: configuration, store,
  catalog seeding, HTTP router, graceful shutdown.

CONFIGURATION:
  Flags take precedence; a .env file (loaded via godotenv when present)
  supplies defaults through the environment:

    -port  / PORT        HTTP server port (default 8080)
    -db    / DB_PATH     SQLite database path (default leave.db,
                         ":memory:" for in-memory)
    -types / TYPES_PATH  JSON leave-type catalog; when unset the built-in
                         defaults (Casual 12 fixed, Sick 10, Unpaid) are
                         seeded

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the server stops accepting connections, waits up to
  30s for in-flight requests, then closes the database.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/atlashr/leave-engine/api"
	"github.com/atlashr/leave-engine/factory"
	"github.com/atlashr/leave-engine/leave"
	"github.com/atlashr/leave-engine/store/sqlite"
)

func main() {
	// .env is optional; flags still win over the environment.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "leave.db"), "SQLite database path")
	typesPath := flag.String("types", envStr("TYPES_PATH", ""), "leave type catalog JSON file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	if err := seedCatalog(store, *typesPath); err != nil {
		logger.Fatal("failed to seed leave type catalog", zap.Error(err))
	}

	handler := api.NewHandler(store, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port),
			zap.String("db", *dbPath),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

// seedCatalog loads the configured catalog (or the built-in defaults) and
// upserts it into the store.
func seedCatalog(store *sqlite.Store, path string) error {
	var types []leave.Type
	var err error
	if path != "" {
		types, err = factory.LoadCatalog(path)
		if err != nil {
			return err
		}
	} else {
		types = factory.DefaultCatalog()
	}

	ctx := context.Background()
	for i := range types {
		if err := store.SaveLeaveType(ctx, &types[i]); err != nil {
			return err
		}
	}
	return nil
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
