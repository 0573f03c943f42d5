package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligun0805/deposit-runner/internal/config"
	"github.com/ligun0805/deposit-runner/internal/deposit"
)

func newCalldataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calldata",
		Short: "Print the deposit() calldata for one input entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, _ := cmd.Flags().GetInt("index")
			st, err := loadSettings(cmd)
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
			if idx < 0 || idx >= len(entries) {
				return fmt.Errorf("index %d out of range, file has %d entries", idx, len(entries))
			}
			rec, err := entries[idx].Parse()
			if err != nil {
				return fmt.Errorf("entry %d: %w", idx, err)
			}
			data, err := deposit.Calldata(rec)
			if err != nil {
				return err
			}
			fmt.Println("pubkey   : 0x" + rec.ID())
			fmt.Println("selector : 0x" + hex.EncodeToString(deposit.Selector()))
			fmt.Println("calldata : 0x" + hex.EncodeToString(data))
			return nil
		},
	}
	cmd.Flags().Int("index", 0, "Zero-based position in the deposit data file")
	return cmd
}
