package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ligun0805/deposit-runner/internal/config"
	"github.com/ligun0805/deposit-runner/internal/depositcore"
	"github.com/ligun0805/deposit-runner/internal/logging"
)

const rpcTimeout = 30 * time.Second

// loadSettings reads .env (or --env-file), then the environment, then flag overrides.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	flags := cmd.Flags()
	if f, _ := flags.GetString(flagEnvFile); f != "" {
		if err := godotenv.Overload(f); err != nil {
			return config.Settings{}, fmt.Errorf("load %s: %w", f, err)
		}
	} else {
		_ = godotenv.Load()
		_ = godotenv.Overload(".env.local")
	}

	st := config.Load()
	if v, _ := flags.GetString(flagInput); v != "" {
		st.DepositDataFile = v
	}
	if v, _ := flags.GetString(flagLedger); v != "" {
		st.LedgerFile = v
	}
	if v, _ := flags.GetString(flagLogLevel); v != "" {
		st.LogLevel = v
	}
	return st, nil
}

func newLogger(st config.Settings) (*zap.Logger, error) {
	l, err := logging.NewRootLogger(st.LogFormat, st.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize the logger: %w", err)
	}
	return l, nil
}

func policyFromSettings(st config.Settings) depositcore.Policy {
	p := depositcore.DefaultPolicy()
	if st.MaxSendAttempts > 0 {
		p.MaxSendAttempts = uint(st.MaxSendAttempts)
	}
	if st.FeeEscalation >= 1 {
		p.FeeEscalationFactor = st.FeeEscalation
	}
	if st.RetryDelayMs >= 0 {
		p.InterAttemptDelay = time.Duration(st.RetryDelayMs) * time.Millisecond
	}
	if st.ConfirmPollMs >= 0 {
		p.ConfirmationPollInterval = time.Duration(st.ConfirmPollMs) * time.Millisecond
	}
	if st.ConfirmMaxPolls > 0 {
		p.MaxConfirmationPolls = uint(st.ConfirmMaxPolls)
	}
	if st.GasBufferPct >= 0 {
		p.GasBufferPct = uint64(st.GasBufferPct)
	}
	if st.GasReserve > 0 {
		p.GasReserve = uint64(st.GasReserve)
	}
	return p
}

func feePolicyFromSettings(st config.Settings) depositcore.FeePolicy {
	p := depositcore.DefaultFeePolicy()
	p.Mode = st.FeeMode
	if st.FeeWindow > 0 {
		p.Window = uint64(st.FeeWindow)
	}
	p.Percentile = st.FeePercentile
	p.BaseFeeMul = st.BasefeeMul
	p.GasPriceMul = st.GasPriceMul
	if v, err := config.ParseUnits(st.FallbackBasefeeGwei, 9); err == nil {
		p.FallbackBaseFee = v
	}
	if v, err := config.ParseUnits(st.FallbackTipGwei, 9); err == nil {
		p.FallbackTip = v
	}
	return p
}

// session is what every chain-facing command needs.
type session struct {
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey // nil when no key is configured
	from    common.Address
}

func (s *session) Close() { s.client.Close() }

func openSession(ctx context.Context, st config.Settings, needKey bool) (*session, error) {
	var key *ecdsa.PrivateKey
	if strings.TrimSpace(st.PrivateKeyHex) != "" {
		k, err := depositcore.HexToKey(st.PrivateKeyHex)
		if err != nil {
			return nil, &config.ConfigError{Key: "PRIVATE_KEY", Reason: err.Error()}
		}
		key = k
	} else if needKey {
		return nil, &config.ConfigError{Key: "PRIVATE_KEY", Reason: "empty"}
	}

	ec, err := depositcore.Dial(st.RPCURL, rpcTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	chainID, err := st.ChainIDBig()
	if err != nil {
		ec.Close()
		return nil, &config.ConfigError{Key: "CHAIN_ID", Reason: err.Error()}
	}
	if chainID == nil {
		if chainID, err = ec.ChainID(ctx); err != nil {
			ec.Close()
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}

	s := &session{client: ec, chainID: chainID, key: key}
	if key != nil {
		s.from = addressOf(key)
	}
	return s, nil
}

func printConfig(st config.Settings, chainID *big.Int, from common.Address, pol depositcore.Policy, fp depositcore.FeePolicy) {
	fmt.Println("=== CONFIG (.env) ===")
	fmt.Println("RPC_URL                  :", st.RPCURL)
	fmt.Println("CHAIN_ID                 :", chainID.String())
	fmt.Println("PRIVATE_KEY              :", maskHex(st.PrivateKeyHex))
	fmt.Println("  -> sender              :", from.Hex())
	fmt.Println("DEPOSIT_DATA_FILE        :", st.DepositDataFile)
	fmt.Println("DEPOSIT_CONTRACT         :", st.DepositContract)
	fmt.Println("SUCCESSFUL_DEPOSITS_FILE :", st.LedgerFile)
	fmt.Println("DEPOSIT_AMOUNT_ETH       :", st.DepositAmountETH)
	fmt.Println("VERIFY_DEPOSIT_ROOT      :", st.VerifyDepositRoot)
	fmt.Printf("Fees                     : mode=%s window=%d p%g basefee×%d fallback=%s/%s gwei\n",
		fp.Mode, fp.Window, fp.Percentile, fp.BaseFeeMul,
		depositcore.FormatGwei(fp.FallbackBaseFee), depositcore.FormatGwei(fp.FallbackTip))
	fmt.Printf("Send                     : attempts=%d escalation=×%.2f delay=%s buffer=%d%%\n",
		pol.MaxSendAttempts, pol.FeeEscalationFactor, pol.InterAttemptDelay, pol.GasBufferPct)
	fmt.Printf("Confirm                  : every %s, up to %d polls\n", pol.ConfirmationPollInterval, pol.MaxConfirmationPolls)
	fmt.Println("=====================")
}
