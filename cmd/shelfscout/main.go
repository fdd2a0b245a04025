package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// SIGINT/SIGTERM cancel the context; a run stops scheduling new products and reports what it finished
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err.Message)
		os.Exit(err.Code)
	}
}
