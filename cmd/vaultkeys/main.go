package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	if closeErr := teardown(rootCmd, nil); err == nil {
		err = closeErr
	}
	stop()

	if err != nil {
		if !errors.Is(err, errShouldNotUnlock) {
			printError("Error: %v", err)
		}
		os.Exit(1)
	}
}
