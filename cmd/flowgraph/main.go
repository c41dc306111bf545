// Package main provides the pregelflow CLI: validate, inspect and run YAML
// graph definitions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information set during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
