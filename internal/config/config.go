package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MainnetDepositContract is the beacon deposit contract on Ethereum mainnet.
const MainnetDepositContract = "0x00000000219ab540356cBB839Cbe05303d7705Fa"

// Settings keeps all configuration options.
// Every key is read in both UPPER_CASE and lower_case spelling.
type Settings struct {
	RPCURL            string
	ChainID           string // optional; eth_chainId is used when empty
	PrivateKeyHex     string
	DepositDataFile   string
	DepositContract   string
	LedgerFile        string
	DepositAmountETH  string
	VerifyDepositRoot bool

	FeeMode             string
	FeeWindow           int
	FeePercentile       float64
	BasefeeMul          int64
	GasPriceMul         float64
	FallbackBasefeeGwei string
	FallbackTipGwei     string

	MaxSendAttempts   int
	FeeEscalation     float64
	RetryDelayMs      int64
	GasBufferPct      int64
	GasReserve        int64
	ConfirmPollMs     int64
	ConfirmMaxPolls   int
	LedgerLockTimeout int64

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	get := func(key, def string) string {
		for _, k := range []string{key, strings.ToLower(key)} {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getInt := func(key string, def int) int {
		if n, err := strconv.Atoi(get(key, "")); err == nil {
			return n
		}
		return def
	}
	getInt64 := func(key string, def int64) int64 {
		if n, err := strconv.ParseInt(get(key, ""), 10, 64); err == nil {
			return n
		}
		return def
	}
	getFloat := func(key string, def float64) float64 {
		if n, err := strconv.ParseFloat(get(key, ""), 64); err == nil {
			return n
		}
		return def
	}
	getBool := func(key string, def bool) bool {
		s := strings.ToLower(get(key, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}

	st := Settings{}
	st.RPCURL = get("RPC_URL", "http://localhost:8545")
	st.ChainID = get("CHAIN_ID", "")
	st.PrivateKeyHex = get("PRIVATE_KEY", "")
	st.DepositDataFile = get("DEPOSIT_DATA_FILE", "")
	st.DepositContract = get("DEPOSIT_CONTRACT", MainnetDepositContract)
	st.LedgerFile = get("SUCCESSFUL_DEPOSITS_FILE", "successful_deposits.json")
	st.DepositAmountETH = get("DEPOSIT_AMOUNT_ETH", "32")
	st.VerifyDepositRoot = getBool("VERIFY_DEPOSIT_ROOT", true)

	st.FeeMode = strings.ToLower(get("FEE_MODE", "feehist"))
	st.FeeWindow = getInt("FEE_WINDOW", 10)
	st.FeePercentile = getFloat("FEE_PERCENTILE", 50)
	st.BasefeeMul = getInt64("BASEFEE_MUL", 2)
	st.GasPriceMul = getFloat("GAS_PRICE_MUL", 1.2)
	st.FallbackBasefeeGwei = get("FALLBACK_BASEFEE_GWEI", "30")
	st.FallbackTipGwei = get("FALLBACK_TIP_GWEI", "1.5")

	st.MaxSendAttempts = getInt("MAX_SEND_ATTEMPTS", 3)
	st.FeeEscalation = getFloat("FEE_ESCALATION", 1.25)
	st.RetryDelayMs = getInt64("RETRY_DELAY_MS", 5000)
	st.GasBufferPct = getInt64("GAS_BUFFER_PCT", 15)
	st.GasReserve = getInt64("GAS_RESERVE", 120000)
	st.ConfirmPollMs = getInt64("CONFIRM_POLL_MS", 6000)
	st.ConfirmMaxPolls = getInt("CONFIRM_MAX_POLLS", 50)
	st.LedgerLockTimeout = getInt64("LEDGER_LOCK_TIMEOUT_MS", 10000)

	st.LogLevel = get("LOG_LEVEL", "info")
	st.LogFormat = get("LOG_FORMAT", "console")
	st.MetricsAddr = get("METRICS_ADDR", "")
	return st
}

// ConfigError names the setting that prevents a run from starting.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string { return e.Key + ": " + e.Reason }

// Validate checks everything a batch run needs. All problems are reported at once.
func (s Settings) Validate() error {
	var errs []error
	bad := func(key, reason string) { errs = append(errs, &ConfigError{Key: key, Reason: reason}) }

	if strings.TrimSpace(s.RPCURL) == "" {
		bad("RPC_URL", "empty")
	}
	if s.ChainID != "" {
		if _, err := s.ChainIDBig(); err != nil {
			bad("CHAIN_ID", err.Error())
		}
	}
	if k := strings.TrimPrefix(strings.TrimSpace(s.PrivateKeyHex), "0x"); k == "" {
		bad("PRIVATE_KEY", "empty")
	} else if len(k) != 64 {
		bad("PRIVATE_KEY", "want 32 bytes of hex")
	}
	if strings.TrimSpace(s.DepositDataFile) == "" {
		bad("DEPOSIT_DATA_FILE", "empty")
	}
	if !common.IsHexAddress(s.DepositContract) {
		bad("DEPOSIT_CONTRACT", "not an address")
	}
	if strings.TrimSpace(s.LedgerFile) == "" {
		bad("SUCCESSFUL_DEPOSITS_FILE", "empty")
	}
	if v, err := ParseUnits(s.DepositAmountETH, 18); err != nil || v.Sign() <= 0 {
		bad("DEPOSIT_AMOUNT_ETH", "must be a positive amount")
	} else if new(big.Int).Rem(v, big.NewInt(1_000_000_000)).Sign() != 0 {
		bad("DEPOSIT_AMOUNT_ETH", "must be a whole number of gwei")
	}
	if s.FeeMode != "feehist" && s.FeeMode != "gasprice" {
		bad("FEE_MODE", "want feehist or gasprice")
	}
	if s.FeeWindow < 1 || s.FeeWindow > 1024 {
		bad("FEE_WINDOW", "want 1..1024")
	}
	if s.FeePercentile < 0 || s.FeePercentile > 100 {
		bad("FEE_PERCENTILE", "want 0..100")
	}
	if s.BasefeeMul < 1 {
		bad("BASEFEE_MUL", "want >= 1")
	}
	if s.GasPriceMul < 1 {
		bad("GAS_PRICE_MUL", "want >= 1")
	}
	if _, err := ParseUnits(s.FallbackBasefeeGwei, 9); err != nil {
		bad("FALLBACK_BASEFEE_GWEI", err.Error())
	}
	if _, err := ParseUnits(s.FallbackTipGwei, 9); err != nil {
		bad("FALLBACK_TIP_GWEI", err.Error())
	}
	if s.MaxSendAttempts < 1 {
		bad("MAX_SEND_ATTEMPTS", "want >= 1")
	}
	// nodes refuse a same-nonce replacement below +10%
	if s.FeeEscalation < 1.1 || s.FeeEscalation > 2 {
		bad("FEE_ESCALATION", "want 1.1..2.0")
	}
	if s.RetryDelayMs < 0 {
		bad("RETRY_DELAY_MS", "negative")
	}
	if s.GasBufferPct < 0 || s.GasBufferPct > 100 {
		bad("GAS_BUFFER_PCT", "want 0..100")
	}
	if s.GasReserve <= 0 {
		bad("GAS_RESERVE", "want > 0")
	}
	if s.ConfirmPollMs < 0 {
		bad("CONFIRM_POLL_MS", "negative")
	}
	if s.ConfirmMaxPolls < 1 {
		bad("CONFIRM_MAX_POLLS", "want >= 1")
	}
	return errors.Join(errs...)
}

// ChainIDBig parses CHAIN_ID (decimal or 0x-hex). Nil, nil when unset.
func (s Settings) ChainIDBig() (*big.Int, error) {
	v := strings.TrimSpace(s.ChainID)
	if v == "" {
		return nil, nil
	}
	z, ok := new(big.Int), false
	if strings.HasPrefix(v, "0x") {
		z, ok = z.SetString(v[2:], 16)
	} else {
		z, ok = z.SetString(v, 10)
	}
	if !ok || z.Sign() <= 0 {
		return nil, fmt.Errorf("bad chain id %q", v)
	}
	return z, nil
}

// DepositWei is DEPOSIT_AMOUNT_ETH in wei.
func (s Settings) DepositWei() (*big.Int, error) {
	return ParseUnits(s.DepositAmountETH, 18)
}

// ParseUnits converts a decimal string like "1.5" into an integer with the given
// number of decimals. Extra fractional digits are rejected.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty amount")
	}
	if s[0] == '-' {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	s = strings.TrimPrefix(s, "+")
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	if intPart == "" {
		intPart = "0"
	}
	whole, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(whole, scale)
	if len(parts) == 2 && parts[1] != "" {
		frac := parts[1]
		if strings.Trim(frac, "0123456789") != "" {
			return nil, fmt.Errorf("bad amount %q", s)
		}
		if len(frac) > decimals {
			return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
		}
		frac += strings.Repeat("0", decimals-len(frac))
		f, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("bad amount %q", s)
		}
		out.Add(out, f)
	}
	return out, nil
}
