// Command booking-migrate applies the booking schema to a Postgres database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/slotchat/libs/config"
	"github.com/md-rashed-zaman/slotchat/libs/db"
	"github.com/md-rashed-zaman/slotchat/libs/runtime"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/storage"
	"github.com/spf13/pflag"
)

func main() {
	config.LoadDotEnv()

	var (
		databaseURL string
		dryRun      bool
		timeout     time.Duration
	)
	pflag.StringVar(&databaseURL, "database-url", config.String("DATABASE_URL", ""), "Postgres connection string (defaults to $DATABASE_URL)")
	pflag.BoolVar(&dryRun, "dry-run", false, "print the schema instead of applying it")
	pflag.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	pflag.Parse()

	if dryRun {
		fmt.Print(storage.Schema)
		return
	}
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "booking-migrate: --database-url or DATABASE_URL is required")
		os.Exit(2)
	}

	logger := runtime.NewLogger("booking-migrate")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := db.Open(ctx, databaseURL, db.Options{MaxConns: 1})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := storage.Migrate(ctx, pool); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}
	logger.Info("schema applied")
}
