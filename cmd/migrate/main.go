// Command migrate manages the safetrade database schema via goose.
//
// Usage:
//
//	go run ./cmd/migrate up               # Apply all pending migrations
//	go run ./cmd/migrate down             # Roll back the last migration
//	go run ./cmd/migrate status           # Show migration status
//	go run ./cmd/migrate version          # Show current schema version
//	go run ./cmd/migrate up-to <version>  # Migrate up to a specific version
//
// The database is taken from DATABASE_URL; a .env file is honored the same
// way the server honors it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"database/sql"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding goose migration files")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration timeout")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dir migrations] <up|down|status|version|redo|up-to N|down-to N>")
		os.Exit(2)
	}

	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("migrate: DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("migrate: open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("migrate: connect to database: %v", err)
	}

	command := flag.Arg(0)
	if err := goose.RunContext(ctx, command, db, *dir, flag.Args()[1:]...); err != nil {
		log.Fatalf("migrate: %s: %v", command, err)
	}
}
