package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const binaryName = "depositcli"

// Flag names shared by the subcommands.
const (
	flagEnvFile   = "env-file"
	flagLogLevel  = "log-level"
	flagInput     = "input"
	flagLedger    = "ledger"
	flagDryRun    = "dry-run"
	flagPromptKey = "prompt-key"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           binaryName,
		Short:         "Submit validator deposits from a deposit_data.json file",
		Long:          binaryName + ` sends one deposit contract call per deposit_data entry from a single account, and records confirmed pubkeys in a ledger so later runs skip them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(flagEnvFile, "", "Load settings from this file instead of .env/.env.local")
	root.PersistentFlags().String(flagLogLevel, "", "Override LOG_LEVEL (debug, info, warn, error)")
	root.PersistentFlags().String(flagInput, "", "Override DEPOSIT_DATA_FILE")
	root.PersistentFlags().String(flagLedger, "", "Override SUCCESSFUL_DEPOSITS_FILE")

	root.AddCommand(
		newRunCmd(),
		newNetcheckCmd(),
		newLedgerCmd(),
		newCalldataCmd(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
