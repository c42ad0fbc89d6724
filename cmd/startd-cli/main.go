package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"startd/cmd/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.New(os.Stdin, os.Stdout, os.Stderr).Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "startd-cli:", err)
		cancel()
		os.Exit(cli.ExitCode(err))
	}
}
