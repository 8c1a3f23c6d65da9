package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tablerag/tablerag/internal/cli/tablerag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := tablerag.Run(ctx, os.Args[1:], tablerag.Options{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
