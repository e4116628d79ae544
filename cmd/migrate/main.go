// Command migrate applies the embedded schema migrations and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/LeventeLantos/congregation-messaging/internal/migrations"
	"github.com/LeventeLantos/congregation-messaging/internal/repo"
)

var errMissingURL = errors.New("missing required env var: POSTGRES_URL")

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(context.Background(), os.Getenv("POSTGRES_URL"), logger); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}
}

// run owns the deferred cleanup; only main exits.
func run(ctx context.Context, url string, logger *slog.Logger) error {
	if url == "" {
		return errMissingURL
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	db, err := repo.Open(ctx, url, 2)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ms, err := migrations.Load()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied, err := migrations.Apply(ctx, db, ms, logger)
	if err != nil {
		return err
	}
	logger.Info("migrations complete", "applied", applied, "known", len(ms))
	return nil
}
