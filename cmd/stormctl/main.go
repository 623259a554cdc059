// Command stormctl runs the evaluation engine offline against a measurement
// archive.
//
// Usage:
//
//	stormctl import      -input rows.csv.zst [-output rows.parquet]
//	stormctl backtest    -input rows.parquet -start 2024-05-01 -end 2024-06-01 [-chart report.html]
//	stormctl optimize    -result backtest.json [-method f1|youden|cost] [-chart sweep.html]
//	stormctl detect      -input rows.parquet -start 2024-05-01 -end 2024-06-01 [-signal kp|probability]
//	stormctl climatology -input rows.parquet [-from 2015 -to 2022] [-region global -days 7]
//
// Without -input, measurements are read from ClickHouse (CLICKHOUSE_ADDR,
// CLICKHOUSE_DATABASE, CLICKHOUSE_USER, CLICKHOUSE_PASSWORD,
// CLICKHOUSE_TABLE). Results are written to stdout as JSON; logs go to
// stderr (LOG_LEVEL, LOG_FORMAT).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set via ldflags at build time
var version = "dev"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *cliEnv, args []string) error
}

var commands = []command{
	{"import", "load a CSV or Parquet archive into ClickHouse or convert it to Parquet", runImport},
	{"backtest", "evaluate the oracle over a historical range", runBacktest},
	{"optimize", "find the decision threshold for a backtest result", runOptimize},
	{"detect", "detect storm events or build a storm catalog", runDetect},
	{"climatology", "build climatology tables and print a forecast", runClimatology},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return flag.ErrHelp
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		usage(stderr)
		return nil
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	}

	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, newCLIEnv(stdout, stderr), args[1:])
		}
	}
	usage(stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: stormctl <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'stormctl <command> -h' for command flags.")
}
