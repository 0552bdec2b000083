package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "OMS_POSTGRES_DSN"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout); err != nil {
		cancel()
		fail("%v", err)
	}
}

// run разбирает флаги и выполняет одну команду мигратора.
func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	var (
		direction string
		steps     int
		dsn       string
	)
	flags.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flags.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flags.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if dsn == "" {
		return errors.New(envPostgresDSN + " (or -dsn) is required")
	}

	statusOnly := strings.EqualFold(strings.TrimSpace(direction), "status")
	var dir postgres.Direction
	if !statusOnly {
		parsed, err := postgres.ParseDirection(direction)
		if err != nil {
			return fmt.Errorf("%w (use up|down|status)", err)
		}
		dir = parsed
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if !statusOnly {
		var report postgres.MigrationReport
		if dir == postgres.DirectionDown {
			report, err = store.MigrateDown(ctx, steps)
		} else {
			report, err = store.MigrateUp(ctx, steps)
		}
		if err != nil {
			return fmt.Errorf("migrate %s failed: %w", dir, err)
		}
		printReport(out, report)
	}

	states, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	printStatus(out, states)
	return nil
}

func printReport(out io.Writer, report postgres.MigrationReport) {
	if len(report.Versions) == 0 {
		_, _ = fmt.Fprintf(out, "migrate %s: nothing to do\n", report.Direction)
		return
	}
	versions := make([]string, 0, len(report.Versions))
	for _, v := range report.Versions {
		versions = append(versions, fmt.Sprintf("%04d", v))
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: %s\n", report.Direction, strings.Join(versions, ", "))
}

func printStatus(out io.Writer, states []postgres.MigrationState) {
	applied := 0
	for _, st := range states {
		mark := "pending"
		if st.Applied {
			applied++
			mark = "applied " + st.AppliedAt.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(out, "%04d %-24s %s\n", st.Version, st.Name, mark)
	}
	_, _ = fmt.Fprintf(out, "migration status: applied=%d total=%d\n", applied, len(states))
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
