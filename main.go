// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/mirage/cmd"
)

// main is the entry point for the mirage service.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
