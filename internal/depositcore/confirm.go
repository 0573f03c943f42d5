package depositcore

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type Status int

const (
	Confirmed Status = iota
	Reverted
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Reverted:
		return "reverted"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Outcome is the terminal state of one sent deposit. BlockNumber and GasUsed are set
// only when a receipt was found.
type Outcome struct {
	Status      Status
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Polls       uint
	Waited      time.Duration
}

type Waiter struct {
	chain   Chain
	policy  Policy
	logger  *zap.Logger
	metrics *Metrics
}

func NewWaiter(chain Chain, policy Policy, logger *zap.Logger, metrics *Metrics) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{chain: chain, policy: policy, logger: logger.With(zap.String("module", "waiter")), metrics: metrics}
}

// Await polls for a receipt of any candidate hash, newest first, at most
// MaxConfirmationPolls times. Missing receipts and RPC errors count as "not yet".
func (w *Waiter) Await(ctx context.Context, h *TxHandle) Outcome {
	start := time.Now()
	out := Outcome{Status: TimedOut, Hash: h.Hash}

	candidates := h.Candidates
	if len(candidates) == 0 {
		candidates = []common.Hash{h.Hash}
	}

	err := retry.Do(func() error {
		out.Polls++
		for i := len(candidates) - 1; i >= 0; i-- {
			rcpt, err := w.chain.TransactionReceipt(ctx, candidates[i])
			if err != nil {
				if !errors.Is(err, ethereum.NotFound) {
					w.logger.Debug("receipt query failed",
						zap.String("tx", candidates[i].Hex()),
						zap.String("class", classifyRPCError(err)),
						zap.Error(err),
					)
				}
				continue
			}
			if rcpt == nil {
				continue
			}
			out.Hash = candidates[i]
			out.GasUsed = rcpt.GasUsed
			if rcpt.BlockNumber != nil {
				out.BlockNumber = rcpt.BlockNumber.Uint64()
			}
			if rcpt.Status == types.ReceiptStatusSuccessful {
				out.Status = Confirmed
			} else {
				out.Status = Reverted
			}
			return nil
		}
		return errNotYetMined
	},
		retry.Attempts(w.policy.confirmPolls()),
		retry.Delay(w.policy.ConfirmationPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errNotYetMined) }),
		retry.Context(ctx),
	)
	out.Waited = time.Since(start)
	w.metrics.observeConfirmWait(out.Waited.Seconds())

	if err != nil {
		w.logger.Warn("no receipt within poll budget",
			zap.String("tx", h.Hash.Hex()),
			zap.Int("candidates", len(candidates)),
			zap.Uint("polls", out.Polls),
			zap.Duration("waited", out.Waited),
		)
	}
	return out
}
