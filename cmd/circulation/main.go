// Command circulation runs library circulation operations against a durable store.
//
// Every invocation restores the engine from the store, runs one operation and prints
// the result as JSON. Configuration comes from .env and CIRCULATION_* environment variables.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
