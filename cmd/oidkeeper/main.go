package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"oidkeeper/internal/application/session"
	"oidkeeper/pkg/cmd/oidkeeper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := oidkeeper.NewRootCommand(ctx, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s (%v)\n", session.UserMessage(err), err)
		cancel()
		os.Exit(1)
	}
}
