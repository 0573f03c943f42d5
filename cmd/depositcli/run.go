package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ligun0805/deposit-runner/internal/deposit"
	"github.com/ligun0805/deposit-runner/internal/depositcore"
	"github.com/ligun0805/deposit-runner/internal/ledger"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit every deposit not yet in the ledger",
		Long: `Submit every deposit not yet in the ledger, one at a time, until the input is
exhausted or the sender balance no longer covers another deposit.
Per-record failures are logged and do not change the exit code.`,
		Example: binaryName + ` run --input deposit_data.json --dry-run`,
		Args:    cobra.NoArgs,
		RunE:    runBatch,
	}
	cmd.Flags().Bool(flagDryRun, false, "Estimate and sign every deposit but send nothing")
	cmd.Flags().Bool(flagPromptKey, false, "Read PRIVATE_KEY from the terminal when it is not set")
	return cmd
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	st, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if prompt, _ := cmd.Flags().GetBool(flagPromptKey); prompt && st.PrivateKeyHex == "" {
		if st.PrivateKeyHex, err = readPassword("Deposit account private key: "); err != nil {
			return err
		}
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	dryRun, _ := cmd.Flags().GetBool(flagDryRun)

	logger, err := newLogger(st)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	entries, err := deposit.LoadFile(st.DepositDataFile)
	if err != nil {
		return err
	}
	value, err := st.DepositWei()
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, st, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	pol := policyFromSettings(st)
	fp := feePolicyFromSettings(st)
	printConfig(st, sess.chainID, sess.from, pol, fp)

	var metrics *depositcore.Metrics
	if st.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = depositcore.NewMetrics(reg)
		stop := serveMetrics(st.MetricsAddr, reg, logger)
		defer stop()
	}

	led := ledger.New(st.LedgerFile, logger, ledger.WithLockTimeout(time.Duration(st.LedgerLockTimeout)*time.Millisecond))
	led.Load()

	contract := common.HexToAddress(st.DepositContract)
	driver := depositcore.NewDriver(
		sess.client,
		led,
		depositcore.NewFeeEstimator(sess.client, fp, logger),
		depositcore.NewSubmitter(sess.client, sess.key, contract, sess.chainID, value, pol, logger, metrics),
		depositcore.NewWaiter(sess.client, pol, logger, metrics),
		depositcore.DriverConfig{
			Policy:       pol,
			DepositValue: value,
			VerifyRoot:   st.VerifyDepositRoot,
			DryRun:       dryRun,
		},
		logger,
		metrics,
	)

	rep, err := driver.Run(ctx, entries)
	if err != nil {
		return err
	}
	printReport(rep, led)
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printReport(rep *depositcore.Report, led *ledger.Ledger) {
	fmt.Println("=== RESULT ===")
	fmt.Println("run id     :", rep.RunID)
	fmt.Printf("processed  : %d of %d (capacity %d)\n", rep.Processed, rep.Total, rep.Capacity)
	fmt.Println("confirmed  :", rep.Confirmed)
	fmt.Println("failed     :", rep.Failed)
	if rep.Simulated > 0 {
		fmt.Println("simulated  :", rep.Simulated)
	}
	for _, r := range []depositcore.SkipReason{
		depositcore.SkipAlreadyDone,
		depositcore.SkipInvalid,
		depositcore.SkipEstimationFailed,
		depositcore.SkipOverCapacity,
	} {
		if n := rep.Skipped[r]; n > 0 {
			fmt.Printf("skipped    : %d %s\n", n, r)
		}
	}
	if rep.Halted {
		fmt.Println("halted     : balance exhausted, remaining records wait for the next run")
	}
	if rep.Interrupted {
		fmt.Println("interrupted: stopped between records on signal")
	}
	for _, o := range rep.Outcomes {
		if o.State == depositcore.StateFailed || (o.State == depositcore.StateConfirmed && !o.LedgerPersisted) {
			fmt.Printf("  #%d %s %s: %v\n", o.Index, deposit.ShortID(o.Pubkey), o.State, o.Err)
		}
	}
	fmt.Printf("ledger     : %d entries in %s\n", led.Len(), led.Path())
	fmt.Println("==============")
}
