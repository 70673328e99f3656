// Command shopctl runs shop commands and queries against a configured event store.
//
// Usage:
//
//	shopctl [-env file] <command> [flags]
//
// Commands:
//
//	product create -name NAME -price CENTS [-id UUID]
//	product update -id UUID [-name NAME] [-price CENTS] [-description TEXT | -clear-description] [-picture URL | -clear-picture]
//	product delete -id UUID
//	product get -id UUID
//	product list
//	cart open -owner OWNER [-id UUID]
//	cart add|remove|set -id UUID -product UUID -qty N
//	cart clear|delete|get -id UUID
//	history -type product|cart -id UUID [-version N]
//	rebuild [-follow] [-partitions N]
//	version
//
// Configuration comes from PUPCART_* environment variables (see internal/config).
// Exit codes: 0 ok, 1 failure, 2 domain invariant violated, 3 concurrency conflict, 4 not found.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/store"
	"github.com/getpup/pupcart/internal/shop/commands"
	pupcart "github.com/getpup/pupcart/pkg"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitInvariant = 2
	exitConflict  = 3
	exitNotFound  = 4
)

// errUsage marks bad command lines.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("shopctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	envFile := global.String("env", "", "Environment file to load (default: .env if present)")
	if err := global.Parse(args); err != nil {
		return exitFailure
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "Error: missing command. Run with a command such as: product, cart, history, rebuild, version")
		return exitFailure
	}
	if rest[0] == "version" {
		fmt.Fprintln(stdout, pupcart.Version())
		return exitOK
	}

	app, err := newApp(ctx, *envFile, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	err = app.dispatch(ctx, rest)
	if closeErr := app.Close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps domain errors to process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case store.IsConflict(err):
		return exitConflict
	case errors.Is(err, commands.ErrNotFound):
		return exitNotFound
	case errors.Is(err, aggregate.ErrInvariant):
		return exitInvariant
	default:
		return exitFailure
	}
}
