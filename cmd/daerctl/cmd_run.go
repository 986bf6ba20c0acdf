package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dshills/daer"
	"github.com/dshills/daer/emit"
	"github.com/dshills/daer/policy"
)

func runRun(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "execution id (required)")
	dbPath := fs.String("db", "./daer.db", "SQLite database path (\":memory:\" for ephemeral)")
	taskFile := fs.String("task", "", "path to a JSON file holding the task (default: {})")
	maxSteps := fs.Int("max-steps", 20, "policy: maximum steps")
	maxTokens := fs.Int("max-tokens", 10000, "policy: maximum cumulative token usage (0 = no limit)")
	jsonLog := fs.Bool("json-log", false, "emit observability events as JSON lines instead of text")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" {
		fmt.Fprintln(errOut, "daerctl run: -id is required")
		return 1
	}

	task, err := loadTask(*taskFile)
	if err != nil {
		fmt.Fprintf(errOut, "daerctl run: %v\n", err)
		return 1
	}

	log, store, closeAll, err := openStores(*dbPath)
	if err != nil {
		fmt.Fprintf(errOut, "daerctl run: %v\n", err)
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
		fmt.Fprintf(errOut, "daerctl run: %v\n", err)
		return 1
	}

	report, err := eng.Run(ctx, *id, task)
	if err != nil {
		fmt.Fprintf(errOut, "daerctl run: %v\n", err)
		return 1
	}
	return printReport(out, report)
}

// loadTask decodes path as JSON, or returns an empty object when path
// is unset — a task is required by Run but the CLI's demo adapter
// never inspects its contents, so an empty default is a safe zero
// value rather than a usage error.
func loadTask(path string) (interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	var task interface{}
	if err := json.Unmarshal(b, &task); err != nil {
		return nil, fmt.Errorf("decode task file: %w", err)
	}
	return task, nil
}

func printReport(out io.Writer, report daer.ExecutionReport) int {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "%+v\n", report)
		return 0
	}
	fmt.Fprintln(out, string(b))
	if report.Status == daer.StatusFailed {
		return 1
	}
	return 0
}

const cliRuntimeVersion = "daerctl-dev"
