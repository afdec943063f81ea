// Package main provides an operations CLI for the idempotency subsystem.
// Usage: idempotency-cli cleanup --dsn postgres://...
//        idempotency-cli generate-key
//        idempotency-cli test-storage --dsn postgres://...
//        idempotency-cli stats --dsn postgres://...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"metapus/internal/domain/idempotency"
	"metapus/internal/infrastructure/idempotency/sqlstore"
	"metapus/internal/infrastructure/storage/postgres"
	"metapus/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "cleanup":
		runCleanup(ctx, os.Args[2:])
	case "generate-key":
		runGenerateKey(os.Args[2:])
	case "test-storage":
		runTestStorage(ctx, os.Args[2:])
	case "stats":
		runStats(ctx, os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Metapus Idempotency CLI

Usage:
  idempotency-cli <command> [options]

Commands:
  cleanup        Delete expired idempotency records in batches
  generate-key   Print a fresh server-suggested idempotency key
  test-storage   Round-trip a record through the SQL Storage backend
  stats          Report expired-vs-live record counts
  help           Show this help`)
}

func dsnFlags(fs *flag.FlagSet) *string {
	return fs.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (defaults to $DATABASE_URL)")
}

func connectPool(ctx context.Context, dsn string) *postgres.Pool {
	if dsn == "" {
		fmt.Println("a --dsn (or $DATABASE_URL) is required")
		os.Exit(1)
	}
	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
	if err != nil {
		fmt.Printf("failed to connect: %v\n", err)
		os.Exit(1)
	}
	return pool
}

// runCleanup deletes expired rows in batches until a batch comes back short,
// mirroring Maintenance.RunOnce but as a one-shot operator command.
func runCleanup(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	dsn := dsnFlags(fs)
	batchSize := fs.Int("batch-size", 1000, "max rows removed per invocation")
	_ = fs.Parse(args)

	pool := connectPool(ctx, *dsn)
	defer pool.Close()

	store := sqlstore.NewStore(pool.Unwrap())
	n, err := store.Cleanup(ctx, *batchSize)
	if err != nil {
		fmt.Printf("cleanup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d expired idempotency records\n", n)
}

func runGenerateKey(args []string) {
	fs := flag.NewFlagSet("generate-key", flag.ExitOnError)
	_ = fs.Parse(args)
	fmt.Println(idempotency.Generate())
}

// runTestStorage exercises Put/Get/Delete against the configured backend so
// an operator can confirm connectivity and schema before enabling
// IDEMPOTENCY_ENABLED in the server.
func runTestStorage(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("test-storage", flag.ExitOnError)
	dsn := dsnFlags(fs)
	_ = fs.Parse(args)

	pool := connectPool(ctx, *dsn)
	defer pool.Close()

	store := sqlstore.NewStore(pool.Unwrap())
	key := "cli-test-" + idempotency.Generate()
	record := idempotency.NewStoredRecord(200, []byte(`{"ok":true}`), nil, time.Minute, time.Now())

	created, err := store.Put(ctx, key, record, time.Minute)
	if err != nil || !created {
		fmt.Printf("put failed: created=%v err=%v\n", created, err)
		os.Exit(1)
	}

	got, err := store.Get(ctx, key)
	if err != nil || got == nil {
		fmt.Printf("get failed: got=%v err=%v\n", got, err)
		os.Exit(1)
	}

	if _, err := store.Delete(ctx, key); err != nil {
		fmt.Printf("delete failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("storage round-trip OK")
}

func runStats(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dsn := dsnFlags(fs)
	_ = fs.Parse(args)

	pool := connectPool(ctx, *dsn)
	defer pool.Close()

	log, err := logger.New(logger.Config{Level: "info"})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Infow("querying idempotency table stats", "table", sqlstore.TableName)

	var total, expired int64
	row := pool.Unwrap().QueryRow(ctx, fmt.Sprintf(
		"SELECT count(*), count(*) FILTER (WHERE expires_at < now()) FROM %s", sqlstore.TableName))
	if err := row.Scan(&total, &expired); err != nil {
		fmt.Printf("stats query failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("total records: %d\n", total)
	fmt.Printf("expired (awaiting cleanup): %d\n", expired)
	fmt.Printf("live: %d\n", total-expired)
}
