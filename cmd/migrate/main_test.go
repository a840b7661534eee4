package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/splax/repodeploy/pkg/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-command", "down", "-target", "3", "-timeout", "5s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.command != "down" || opts.target != 3 || opts.timeout != 5*time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}
	if _, err := parseFlags([]string{"-command", "redo"}); !errors.Is(err, errUnsupported) {
		t.Fatalf("expected unsupported command error, got %v", err)
	}
}

func TestRunSQLiteCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "repodeploy.db")
	cfg := config.APIConfig{StoreDriver: config.StoreSQLite, SQLitePath: path}

	if err := run(context.Background(), cfg, options{command: "up"}, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	if err := run(context.Background(), cfg, options{command: "down"}, discardLogger()); !errors.Is(err, errUnsupported) {
		t.Fatalf("expected down to be refused, got %v", err)
	}
}

func TestRunMemoryStore(t *testing.T) {
	cfg := config.APIConfig{StoreDriver: config.StoreMemory}
	if err := run(context.Background(), cfg, options{command: "status"}, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := run(context.Background(), cfg, options{command: "down"}, discardLogger()); !errors.Is(err, errUnsupported) {
		t.Fatalf("expected down to be refused, got %v", err)
	}
}

func TestRunUnknownDriver(t *testing.T) {
	cfg := config.APIConfig{StoreDriver: "mysql"}
	if err := run(context.Background(), cfg, options{command: "up"}, discardLogger()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}
