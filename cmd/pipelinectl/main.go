// Command pipelinectl is the single binary hosting every process role this
// system needs: the long-running scheduler+watchdog+Admin API server
// (serve), the cookie refresher sidecar, and a handful of administrative
// one-shot subcommands (run-job, seed-congress-trades,
// generate-test-seed), dispatched the way the teacher's slctl dispatches
// its own subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "pipelinectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("no command specified")
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "migrate":
		return runMigrate(ctx, args[1:])
	case "run-job":
		return runRunJob(ctx, args[1:])
	case "seed-congress-trades":
		return runSeedCongressTrades(ctx, args[1:])
	case "generate-test-seed":
		return runGenerateTestSeed(ctx, args[1:])
	case "cookie-refresher":
		return runCookieRefresher(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Println(`pipelinectl - portfolio pipeline process host and admin CLI

Usage:
  pipelinectl <command> [flags]

Commands:
  serve                  start the scheduler, watchdog, and Admin HTTP API
  migrate <up|down>       apply or revert the Postgres schema
  run-job <name>          run one registered job once, outside its cron schedule
  seed-congress-trades    batch-import historical congressional trades
  generate-test-seed      write synthetic fixtures for local development
  cookie-refresher        run the webai cookie refresher sidecar in foreground
  help                    show this message

Configuration is read from the environment (and a local .env file, if
present). See SPEC_FULL.md §6 for the recognized variables.`)
}
