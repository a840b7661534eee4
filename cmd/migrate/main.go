package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/repodeploy/internal/app/migrate"
	"github.com/splax/repodeploy/internal/repository/sqlite"
	"github.com/splax/repodeploy/pkg/config"
	"github.com/splax/repodeploy/pkg/logger"
)

var errUnsupported = errors.New("unsupported migration command")

type options struct {
	command string
	timeout time.Duration
	target  int64
}

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("migration command failed", "command", opts.command, "store", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", opts.command, "store", cfg.StoreDriver)
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.command, "command", "up", "migrate command (up|status|down)")
	fs.DurationVar(&opts.timeout, "timeout", time.Minute, "command timeout")
	fs.Int64Var(&opts.target, "target", 0, "target version for down command (optional)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch opts.command {
	case "up", "status", "down":
		return opts, nil
	default:
		return options{}, fmt.Errorf("%w: %q", errUnsupported, opts.command)
	}
}

// run migrates whichever store the API is configured to use.
func run(ctx context.Context, cfg config.APIConfig, opts options, log *slog.Logger) error {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		return runPostgres(ctx, cfg.DatabaseURL, opts, log)
	case config.StoreSQLite:
		return runSQLite(cfg.SQLitePath, opts, log)
	case config.StoreMemory:
		if opts.command == "down" {
			return fmt.Errorf("%w: memory store has no schema to roll back", errUnsupported)
		}
		log.Info("memory store keeps no schema, nothing to migrate")
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func runPostgres(ctx context.Context, dsn string, opts options, log *slog.Logger) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	runner, err := migrate.New(pool, dsn, log)
	if err != nil {
		pool.Close()
		return err
	}
	defer runner.Close()

	switch opts.command {
	case "status":
		return runner.Status(ctx)
	case "down":
		return runner.Down(ctx, opts.target)
	default:
		return runner.Ensure(ctx)
	}
}

// runSQLite relies on the repository creating its schema idempotently on open.
func runSQLite(path string, opts options, log *slog.Logger) error {
	if opts.command == "down" {
		return fmt.Errorf("%w: sqlite schema is not versioned", errUnsupported)
	}
	repo, err := sqlite.New(path)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer repo.Close()
	log.Info("sqlite schema ready", "path", path)
	return nil
}
