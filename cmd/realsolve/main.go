// Command realsolve solves single-variable equations from the terminal.
//
// Usage:
//
//	realsolve solve "x^2 + 8x + 11" --target 0
//	realsolve batch equations.txt --json
//	realsolve group "(5x+3)(4x)"
//	realsolve decompose "(5x+3)/(4x)"
//	realsolve latex "x^2/3"
//	realsolve eval "3/2"
//
// Exit status is 0 on success, 1 when solving or formatting fails, and 2
// for usage or configuration errors.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
