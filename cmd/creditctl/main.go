// creditctl is the operator's out-of-band tool for the credit ledger. It
// talks to the same store as the server, selected by the same environment.
//
// Usage:
//
//	creditctl balance --user github:42
//	creditctl grant --user github:42 --amount 100
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/sakif/docmeter/internal/config"
	"github.com/sakif/docmeter/internal/service"
	"github.com/sakif/docmeter/internal/storage"
)

const usage = `creditctl manages docmeter credit balances.

Usage:
  creditctl balance --user ID
  creditctl grant --user ID --amount N

The store is selected by LEDGER_DRIVER, DB_PATH, DATABASE_URL and REDIS_ADDR,
read from the environment or a .env file.
`

var errUsage = errors.New("usage")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return errUsage
		}
		return nil
	}

	command, rest := args[0], args[1:]

	var (
		userID string
		amount int64
	)
	flagSet := pflag.NewFlagSet("creditctl "+command, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&userID, "user", "u", "", "principal id, e.g. github:42")
	if command == "grant" {
		flagSet.Int64VarP(&amount, "amount", "n", 0, "credits to add (must be positive)")
	}

	switch command {
	case "balance", "grant":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return errUsage
	}

	if err := flagSet.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// The audit store is irrelevant here.
	cfg.AuditDriver = config.DriverNone
	if err := cfg.Validate(); err != nil {
		return err
	}

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ledger := service.NewLedgerService(stores.Ledger, cfg.StorageTimeout, logger, nil)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch command {
	case "balance":
		credits, err := ledger.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\t%d\n", userID, credits)
	case "grant":
		credits, err := ledger.Grant(ctx, userID, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\t%d\n", userID, credits)
	}
	return nil
}
