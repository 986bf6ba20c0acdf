package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/dshills/daer"
	"github.com/dshills/daer/emit"
	"github.com/dshills/daer/policy"
)

func runResume(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "execution id (required)")
	dbPath := fs.String("db", "./daer.db", "SQLite database path")
	maxSteps := fs.Int("max-steps", 20, "policy: maximum steps")
	maxTokens := fs.Int("max-tokens", 10000, "policy: maximum cumulative token usage (0 = no limit)")
	jsonLog := fs.Bool("json-log", false, "emit observability events as JSON lines instead of text")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" {
		fmt.Fprintln(errOut, "daerctl resume: -id is required")
		return 1
	}

	log, store, closeAll, err := openStores(*dbPath)
	if err != nil {
		fmt.Fprintf(errOut, "daerctl resume: %v\n", err)
		return 1
	}
	defer closeAll()

	eng, err := daer.New(newDemoAdapter(), daer.Options{
		Policy:   policy.Config{MaxSteps: *maxSteps, MaxTokens: *maxTokens},
		EventLog: log, SnapshotStore: store,
		Emitter:        emit.NewLogEmitter(out, *jsonLog),
		RuntimeVersion: cliRuntimeVersion,
	})
	if err != nil {
		fmt.Fprintf(errOut, "daerctl resume: %v\n", err)
		return 1
	}

	report, err := eng.Resume(ctx, *id)
	if err != nil {
		fmt.Fprintf(errOut, "daerctl resume: %v\n", err)
		return 1
	}
	return printReport(out, report)
}
