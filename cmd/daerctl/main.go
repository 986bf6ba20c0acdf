// Command daerctl is a thin CLI over the runtime, enough to create,
// resume, and audit executions against a local store without writing
// Go. It wires a single built-in demo adapter (see demoadapter.go)
// rather than any kind of plugin system — exercising Run/Resume/Replay
// is the point, not hosting arbitrary agent code from the shell.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) < 1 {
		usage(out)
		return 1
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:], out, errOut)
	case "resume":
		return runResume(ctx, args[1:], out, errOut)
	case "replay":
		return runReplay(ctx, args[1:], out, errOut)
	case "version":
		fmt.Fprintln(out, "daerctl (dev)")
		return 0
	case "help", "-h", "--help":
		usage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "daerctl: unknown command %q\n\n", args[0])
		usage(errOut)
		return 1
	}
}

func usage(out io.Writer) {
	fmt.Fprint(out, `daerctl - drive the runtime from the shell

USAGE:
  daerctl <command> [flags]

COMMANDS:
  run      Start a new execution against the demo adapter
  resume   Continue an existing execution from its last open step
  replay   Inspect or audit an existing execution's event history
  version  Print the CLI version
  help     Show this message

Run "daerctl <command> --help" for flags specific to that command.
`)
}
