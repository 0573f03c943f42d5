package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/ligun0805/deposit-runner/internal/config"
	"github.com/ligun0805/deposit-runner/internal/depositcore"
)

func newNetcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "netcheck",
		Short: "Print fee market state, per-deposit cost and how many deposits the balance covers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(st)
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), st, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			value, err := st.DepositWei()
			if err != nil {
				return &config.ConfigError{Key: "DEPOSIT_AMOUNT_ETH", Reason: err.Error()}
			}
			fees := depositcore.NewFeeEstimator(sess.client, feePolicyFromSettings(st), logger)
			printNetworkState(cmd.Context(), sess, st, fees, value, policyFromSettings(st).GasReserve)
			return nil
		},
	}
}

// printNetworkState never fails: each probe prints its own error and the rest continue.
func printNetworkState(ctx context.Context, sess *session, st config.Settings, fees *depositcore.FeeEstimator, value *big.Int, gasReserve uint64) {
	fmt.Println("[net] chain id:", sess.chainID.String())

	h, err := sess.client.HeaderByNumber(ctx, nil)
	if err != nil {
		fmt.Println("[net] head error:", err)
	} else {
		baseFee := big.NewInt(0)
		if h.BaseFee != nil {
			baseFee = h.BaseFee
		}
		fmt.Printf("[net] head #%s baseFee(now): %s gwei\n", h.Number.String(), depositcore.FormatGwei(baseFee))
	}

	pcts := []float64{st.FeePercentile, 95, 99}
	next, stats, err := depositcore.FeeHistoryStats(ctx, sess.client, uint64(st.FeeWindow), pcts)
	if err != nil {
		fmt.Println("[net] feeHistory error:", err)
	} else {
		fmt.Printf("[net] baseFee(next): %s gwei\n", depositcore.FormatGwei(next))
		fmt.Printf("[net] reward stats last %d blocks:\n", st.FeeWindow)
		for _, s := range stats {
			fmt.Printf("  p%-4g min/median/avg/max: %s / %s / %s / %s gwei\n", s.Percentile,
				depositcore.FormatGwei(s.Min), depositcore.FormatGwei(s.Median),
				depositcore.FormatGwei(s.Avg), depositcore.FormatGwei(s.Max))
		}
	}

	q := fees.Estimate(ctx)
	cost := depositcore.PerRecordCost(value, gasReserve, q)
	fmt.Printf("[net] quote(%s): %s\n", st.FeeMode, q)
	fmt.Printf("[net] per deposit: %s ETH value + %d gas = %s ETH worst case\n",
		depositcore.FormatETH(value), gasReserve, depositcore.FormatETH(cost))

	if sess.key == nil {
		fmt.Println("[net] PRIVATE_KEY not set, skipping balance")
		return
	}
	bal, err := sess.client.BalanceAt(ctx, sess.from, nil)
	if err != nil {
		fmt.Println("[net] balance error:", err)
		return
	}
	fmt.Printf("[net] sender %s balance: %s ETH, covers %s deposit(s)\n",
		sess.from.Hex(), depositcore.FormatETH(bal), new(big.Int).Quo(bal, cost).String())
}
