package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/CreamyG31337/portfolio-pipeline/internal/appconfig"
	"github.com/CreamyG31337/portfolio-pipeline/internal/migrate"
)

// runMigrate applies or reverts the Postgres schema (§3, §6) against
// RESEARCH_DATABASE_URL, including the partial unique index that gives
// job_executions its at-most-one-running guarantee at the database level.
func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("migrate: missing direction (up|down)")
	}

	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch direction := fs.Arg(0); direction {
	case "up":
		if err := migrate.Up(cfg.Persistence.ResearchDatabaseURL); err != nil {
			return err
		}
	case "down":
		if err := migrate.Down(cfg.Persistence.ResearchDatabaseURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("migrate: unknown direction %q (want up|down)", direction)
	}

	fmt.Printf("migrate %s: ok\n", fs.Arg(0))
	return nil
}
