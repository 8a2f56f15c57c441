// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/rulecheck/cmd"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

// main is the entry point for the rulecheck CLI.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitCode(cmd.Execute(ctx, os.Args[1:]))
	stop()
	osExit(code)
}

// exitCode maps the result of a command to the process exit status.
// cmd.Execute has already logged the error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *cmd.ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	// Interrupted by a signal: a clean shutdown.
	if errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
