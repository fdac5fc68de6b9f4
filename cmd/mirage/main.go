// File: cmd/mirage/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/mirage/cmd"
	"github.com/xkilldash9x/mirage/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables so tests can observe the crash path.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}

// handlePanic records an unrecovered panic to panic.log before exiting, so
// a crashed browser host leaves something behind besides a dead process.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}

	fmt.Fprintf(os.Stderr, "mirage crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
