// Package main implements boostctl, the operator CLI for listing boosts.
//
// Usage:
//
//	boostctl sweep [--at 2026-02-06T03:00:00Z] [--dry-run]
//	boostctl schedule 49-15d [--start 2026-05-04T10:00:00Z]
//	boostctl show <listingId>
//	boostctl token <userId> [--ttl 1h]
//	boostctl hash-key <key>
//	boostctl bootstrap --env dev [--region eu-west-1] [--profile NAME] [--export-env .env]
//
// Commands that touch the database read the same environment as the
// services (DATABASE_URL, or the _SSM_PARAM indirections outside local).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"classifieds/internal/config"
	"classifieds/internal/db"
	"classifieds/internal/scheduler"
	"classifieds/internal/types"
)

// listingStore is what the database-backed commands need.
type listingStore interface {
	scheduler.SweepStore
	GetListing(ctx context.Context, id string) (*types.Listing, error)
}

// cliDeps are the collaborators commands resolve lazily, so commands that
// never touch the database do not need one.
type cliDeps struct {
	loadConfig func() (*config.Config, error)
	openStore  func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (listingStore, func(), error)
	openAWS    func(ctx context.Context, region, profile string) (*awsSession, error)
	checkDB    func(ctx context.Context, dsn string) error
	clock      types.Clock
	logger     *slog.Logger
}

func defaultDeps() cliDeps {
	return cliDeps{
		loadConfig: func() (*config.Config, error) {
			var provider config.SecretProvider = config.NewEnvVarProvider()
			if os.Getenv("APP_ENV") != "local" {
				provider = config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
			}
			return config.LoadConfig(provider)
		},
		openStore: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (listingStore, func(), error) {
			pool, err := db.Connect(ctx, cfg.Database.URL.Unmask(), cfg.Database.MaxConns)
			if err != nil {
				return nil, nil, err
			}
			return db.NewListingStore(pool, logger), pool.Close, nil
		},
		openAWS: openAWSSession,
		checkDB: pingDatabase,
		clock:   types.RealClock{},
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

func newRootCmd(deps cliDeps) *cobra.Command {
	root := &cobra.Command{
		Use:   "boostctl",
		Short: "Operate listing boosts",
		Long: `boostctl runs and inspects the listing boost machinery.

Examples:
  boostctl schedule 99                       # Bump times of the daily plan starting now
  boostctl sweep --dry-run                   # What a sweep would do right now
  boostctl sweep --at 2026-02-06T03:00:00Z   # Replay a sweep at an instant
  boostctl show 9f1c2a                       # Boost record of a listing`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newSweepCmd(deps),
		newScheduleCmd(deps),
		newShowCmd(deps),
		newTokenCmd(deps),
		newHashKeyCmd(),
		newBootstrapCmd(deps),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(defaultDeps()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// parseInstant parses an RFC3339 flag value, defaulting to the clock's now
// when empty.
func parseInstant(value string, clock types.Clock) (time.Time, error) {
	if value == "" {
		return clock.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid RFC3339 time %q: %w", value, err)
	}
	return t.UTC(), nil
}

// withStore loads configuration, opens the listing store and runs fn.
func withStore(cmd *cobra.Command, deps cliDeps, fn func(cfg *config.Config, store listingStore) error) error {
	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	store, closeFn, err := deps.openStore(ctx, cfg, deps.logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(cfg, store)
}
