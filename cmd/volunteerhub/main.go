package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	cancelled := errors.Is(ctx.Err(), context.Canceled)
	stop()
	if err == nil {
		return
	}
	if cancelled {
		fmt.Fprintln(os.Stderr, "\nOperation cancelled")
		os.Exit(130)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
