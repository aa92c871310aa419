package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/verdict-cli/cmd"
	"github.com/xkilldash9x/verdict-cli/internal/observability"
)

const panicLogFile = "verdict-panic.log"

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = cmd.Execute
)

func main() {
	defer handlePanic()

	// Cancelling the context on SIGINT or SIGTERM still lets every run tear
	// its browser down before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(run(ctx))
}

// run maps the command outcome onto the process exit status.
func run(ctx context.Context) int {
	if err := execute(ctx); err != nil {
		return 1
	}
	return 0
}

// handlePanic writes the stack of an unexpected panic to panicLogFile and
// exits with a failure status.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
	} else {
		fmt.Fprintf(os.Stderr, "verdict crashed; details logged to %s\n", panicLogFile)
	}
	osExit(1)
}
