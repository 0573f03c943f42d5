package depositcore

import (
	"math/big"
	"time"
)

// Fee modes.
const (
	FeeModeFeeHistory = "feehist"
	FeeModeGasPrice   = "gasprice"
)

// Policy holds every retry and polling constant of a run.
type Policy struct {
	MaxSendAttempts     uint
	FeeEscalationFactor float64
	InterAttemptDelay   time.Duration

	ConfirmationPollInterval time.Duration
	MaxConfirmationPolls     uint

	// GasBufferPct is added on top of eth_estimateGas.
	GasBufferPct uint64
	// GasReserve is the gas budgeted per record when sizing capacity.
	GasReserve uint64
}

type FeePolicy struct {
	Mode        string
	Window      uint64
	Percentile  float64
	BaseFeeMul  int64
	GasPriceMul float64

	FallbackBaseFee *big.Int
	FallbackTip     *big.Int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxSendAttempts:          3,
		FeeEscalationFactor:      1.25,
		InterAttemptDelay:        5 * time.Second,
		ConfirmationPollInterval: 6 * time.Second,
		MaxConfirmationPolls:     50,
		GasBufferPct:             15,
		GasReserve:               120_000,
	}
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		Mode:            FeeModeFeeHistory,
		Window:          10,
		Percentile:      50,
		BaseFeeMul:      2,
		GasPriceMul:     1.2,
		FallbackBaseFee: GweiToWei(30),
		FallbackTip:     new(big.Int).Mul(big.NewInt(1_500), big.NewInt(1_000_000)),
	}
}

func (p Policy) sendAttempts() uint {
	if p.MaxSendAttempts == 0 {
		return 1
	}
	return p.MaxSendAttempts
}

func (p Policy) confirmPolls() uint {
	if p.MaxConfirmationPolls == 0 {
		return 1
	}
	return p.MaxConfirmationPolls
}

func (p Policy) escalation() float64 {
	if p.FeeEscalationFactor < 1 {
		return 1
	}
	return p.FeeEscalationFactor
}
