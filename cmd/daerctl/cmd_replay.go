package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/dshills/daer"
	"github.com/dshills/daer/emit"
	"github.com/dshills/daer/policy"
	"github.com/dshills/daer/replay"
)

func runReplay(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(errOut)
	id := fs.String("id", "", "execution id (required)")
	dbPath := fs.String("db", "./daer.db", "SQLite database path")
	force := fs.Bool("force", false, "re-invoke the adapter and compare against history instead of a side-effect-free rehydrate")
	allowNonIdempotent := fs.Bool("allow-non-idempotent", false, "with -force, permit re-running tool calls not marked idempotent")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" {
		fmt.Fprintln(errOut, "daerctl replay: -id is required")
		return 1
	}

	log, store, closeAll, err := openStores(*dbPath)
	if err != nil {
		fmt.Fprintf(errOut, "daerctl replay: %v\n", err)
		return 1
	}
	defer closeAll()

	if !*force {
		state, err := replay.Rehydrate(ctx, log, *id)
		if err != nil {
			fmt.Fprintf(errOut, "daerctl replay: %v\n", err)
			return 1
		}
		b, _ := json.MarshalIndent(state, "", "  ")
		fmt.Fprintln(out, string(b))
		return 0
	}

	eng, err := daer.New(newDemoAdapter(), daer.Options{
		Policy:         policy.Config{},
		EventLog:       log,
		SnapshotStore:  store,
		Emitter:        emit.NewLogEmitter(out, false),
		RuntimeVersion: cliRuntimeVersion,
	})
	if err != nil {
		fmt.Fprintf(errOut, "daerctl replay: %v\n", err)
		return 1
	}

	report, divergences, err := eng.ForceReplay(ctx, *id, daer.ForceReplayOptions{AllowNonIdempotentTools: *allowNonIdempotent})
	if len(divergences) > 0 {
		fmt.Fprintln(errOut, "determinism violation detected:")
		for _, d := range divergences {
			fmt.Fprintf(errOut, "  %s\n", d.String())
		}
	}
	if err != nil {
		fmt.Fprintf(errOut, "daerctl replay: %v\n", err)
		return 1
	}
	return printReport(out, report)
}
