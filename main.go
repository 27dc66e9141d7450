package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/timewave/rls-provisioner/go-provisioner/cli"
)

func main() {
	// Cancel in-flight DDL and stop watch mode on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
