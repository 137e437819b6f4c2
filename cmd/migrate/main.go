// Команда migrate управляет схемой базы склада: накатывает и откатывает
// миграции, показывает текущую версию.
//
//	migrate -command up
//	migrate -command down -steps 2
//	migrate -command status
//
// DSN берётся из -dsn либо из WMS_POSTGRES_DSN.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/wms/internal/storage/postgres"
)

const commandTimeout = 30 * time.Second

type options struct {
	command string
	steps   int
	dsn     string
}

// migratorStore описывает часть postgres.Store, нужную команде.
type migratorStore interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
	Close() error
}

var openStore = func(ctx context.Context, dsn string) (migratorStore, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	opts, err := readOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	store, err := openStore(ctx, opts.dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open postgres store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := run(ctx, store, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readOptions(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&opts.command, "command", "up", "up | down | status")
	fs.IntVar(&opts.steps, "steps", 0, "сколько миграций применить или откатить (0 = все для up, 1 для down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (по умолчанию WMS_POSTGRES_DSN)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.command = strings.ToLower(strings.TrimSpace(opts.command))
	switch opts.command {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported command %q (use up, down or status)", opts.command)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(os.Getenv("WMS_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("postgres dsn is required: pass -dsn or set WMS_POSTGRES_DSN")
	}

	return opts, nil
}

func run(ctx context.Context, store migratorStore, opts options, out io.Writer) error {
	switch opts.command {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	fmt.Fprintf(out, "%s ok: version=%d applied=%d\n", opts.command, version, applied)

	return nil
}
