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

	root := newRootCmd(defaultBuilder)
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(exitCode(err))
	}
}
