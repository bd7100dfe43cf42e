// Package main runs the marketplace daemon: the ledger, the sale history
// store and the HTTP/WebSocket gateway in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/smartstache/keychain/internal/gateway"
	"github.com/smartstache/keychain/internal/ledger"
	ledgermem "github.com/smartstache/keychain/internal/ledger/memory"
	ledgerpg "github.com/smartstache/keychain/internal/ledger/postgres"
	"github.com/smartstache/keychain/internal/marketplace"
	"github.com/smartstache/keychain/internal/observability"
	"github.com/smartstache/keychain/internal/storage"
	chstore "github.com/smartstache/keychain/internal/storage/clickhouse"
	"github.com/smartstache/keychain/internal/storage/memory"
	"github.com/smartstache/keychain/internal/storage/migrations"
	pgstore "github.com/smartstache/keychain/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for sale history")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")

	flag.Parse()

	logger := log.New(os.Stdout, "[marketd] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chain, sales, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	hub := gateway.NewHub(nil, logger)
	defer hub.Close()

	go trackUptime(ctx)

	svc := marketplace.NewService(chain, sales,
		marketplace.WithEventSink(hub),
		marketplace.WithLogger(logger),
	)

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: gateway.NewServer(svc, hub, logger),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		logger.Fatalf("HTTP server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}
	hub.Close()

	logger.Println("Shutdown complete")
}

// createStores builds the ledger and the sale history store. In-memory
// mode backs both with process-local state. Otherwise the ledger runs on
// PostgreSQL and sale history goes to ClickHouse when a DSN is given,
// falling back to PostgreSQL.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (ledger.Ledger, storage.SaleStore, func(), error) {
	if useMemory {
		return ledgermem.NewLedger(), memory.NewSaleStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	chain := ledgerpg.NewLedger(pool)

	if clickhouseDSN == "" {
		return chain, pgstore.NewSaleStore(pool), pool.Close, nil
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return chain, chstore.NewSaleStore(chConn), cleanup, nil
}

// trackUptime ticks the uptime counter once a second until ctx is done.
func trackUptime(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.DefaultMetrics.UptimeSeconds.Inc()
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
