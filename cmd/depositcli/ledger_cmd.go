package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligun0805/deposit-runner/internal/config"
	"github.com/ligun0805/deposit-runner/internal/deposit"
	"github.com/ligun0805/deposit-runner/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or seed the ledger of confirmed deposits",
	}
	cmd.AddCommand(newLedgerListCmd(), newLedgerSeedCmd())
	return cmd
}

func openLedger(cmd *cobra.Command) (*ledger.Ledger, config.Settings, error) {
	st, err := loadSettings(cmd)
	if err != nil {
		return nil, st, err
	}
	logger, err := newLogger(st)
	if err != nil {
		return nil, st, err
	}
	led := ledger.New(st.LedgerFile, logger, ledger.WithLockTimeout(time.Duration(st.LedgerLockTimeout)*time.Millisecond))
	led.Load()
	return led, st, nil
}

func newLedgerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every pubkey recorded as deposited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			led, _, err := openLedger(cmd)
			if err != nil {
				return err
			}
			for _, id := range led.IDs() {
				fmt.Println("0x" + id)
			}
			fmt.Printf("%d entries in %s\n", led.Len(), led.Path())
			return nil
		},
	}
}

// The seed command marks deposits made outside this tool, e.g. through the launchpad.
func newLedgerSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "seed",
		Short:   "Record the pubkeys of the first N input entries as already deposited",
		Example: binaryName + ` ledger seed --first 10 --input deposit_data.json`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			first, _ := cmd.Flags().GetInt("first")
			if first <= 0 {
				return fmt.Errorf("--first must be positive")
			}
			led, st, err := openLedger(cmd)
			if err != nil {
				return err
			}
			if st.DepositDataFile == "" {
				return &config.ConfigError{Key: "DEPOSIT_DATA_FILE", Reason: "empty"}
			}
			entries, err := deposit.LoadFile(st.DepositDataFile)
			if err != nil {
				return err
			}

			ids, skipped := seedIDs(entries, first)
			for _, idx := range skipped {
				fmt.Printf("entry %d: unparseable pubkey, not recorded\n", idx)
			}
			total, err := led.MergeAndPersist(ids...)
			if err != nil {
				return err
			}
			fmt.Printf("recorded %d pubkey(s), %d entries in %s\n", len(ids), total, led.Path())
			return nil
		},
	}
	cmd.Flags().Int("first", 10, "Number of leading deposit_data entries to record")
	return cmd
}

// seedIDs returns the identities of entries[:n]. Entries in that range that do not
// parse are reported by index and never replaced by later ones.
func seedIDs(entries []deposit.Entry, n int) ([]string, []int) {
	if n > len(entries) {
		n = len(entries)
	}
	ids := make([]string, 0, n)
	var skipped []int
	for i, e := range entries[:n] {
		rec, err := e.Parse()
		if err != nil {
			skipped = append(skipped, i)
			continue
		}
		ids = append(ids, rec.ID())
	}
	return ids, skipped
}
