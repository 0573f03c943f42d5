package depositcore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"go.uber.org/zap"
)

// FeeQuote is the EIP-1559 fee pair offered for one attempt, in wei per gas.
type FeeQuote struct {
	MaxFee      *big.Int
	PriorityFee *big.Int
}

func (q FeeQuote) String() string {
	return fmt.Sprintf("maxFee=%s tip=%s gwei", FormatGwei(q.MaxFee), FormatGwei(q.PriorityFee))
}

// Escalate multiplies both components by factor, rounding up. The result is never
// below the input.
func Escalate(q FeeQuote, factor float64) FeeQuote {
	if factor < 1 {
		factor = 1
	}
	next := FeeQuote{
		MaxFee:      maxBig(mulFloatCeil(q.MaxFee, factor), q.MaxFee),
		PriorityFee: maxBig(mulFloatCeil(q.PriorityFee, factor), q.PriorityFee),
	}
	if next.PriorityFee.Cmp(next.MaxFee) > 0 {
		next.PriorityFee = new(big.Int).Set(next.MaxFee)
	}
	return next
}

// PerRecordCost is the worst-case spend for one deposit: value plus gasReserve at maxFee.
func PerRecordCost(value *big.Int, gasReserve uint64, q FeeQuote) *big.Int {
	gas := new(big.Int).Mul(new(big.Int).SetUint64(gasReserve), q.MaxFee)
	return gas.Add(gas, value)
}

type FeeEstimator struct {
	chain  Chain
	policy FeePolicy
	logger *zap.Logger
}

func NewFeeEstimator(chain Chain, policy FeePolicy, logger *zap.Logger) *FeeEstimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.BaseFeeMul < 1 {
		policy.BaseFeeMul = 1
	}
	if policy.GasPriceMul < 1 {
		policy.GasPriceMul = 1
	}
	if policy.Window == 0 {
		policy.Window = 1
	}
	if policy.FallbackBaseFee == nil {
		policy.FallbackBaseFee = DefaultFeePolicy().FallbackBaseFee
	}
	if policy.FallbackTip == nil {
		policy.FallbackTip = DefaultFeePolicy().FallbackTip
	}
	return &FeeEstimator{chain: chain, policy: policy, logger: logger.With(zap.String("module", "fees"))}
}

// Estimate never fails: when the chain's fee signals are unavailable it returns the
// fallback quote.
func (e *FeeEstimator) Estimate(ctx context.Context) FeeQuote {
	var (
		q   FeeQuote
		err error
	)
	switch e.policy.Mode {
	case FeeModeGasPrice:
		q, err = e.fromGasPrice(ctx)
	default:
		q, err = e.fromFeeHistory(ctx)
	}
	if err != nil {
		fb := e.Fallback()
		e.logger.Warn("fee signal unavailable, using fallback quote",
			zap.String("mode", e.policy.Mode),
			zap.Error(err),
			zap.String("quote", fb.String()),
		)
		return fb
	}
	return q
}

func (e *FeeEstimator) Fallback() FeeQuote {
	tip := new(big.Int).Set(e.policy.FallbackTip)
	maxFee := new(big.Int).Mul(e.policy.FallbackBaseFee, big.NewInt(e.policy.BaseFeeMul))
	return FeeQuote{MaxFee: maxFee.Add(maxFee, tip), PriorityFee: tip}
}

func (e *FeeEstimator) fromFeeHistory(ctx context.Context) (FeeQuote, error) {
	hist, err := e.chain.FeeHistory(ctx, e.policy.Window, nil, []float64{e.policy.Percentile})
	if err != nil {
		return FeeQuote{}, fmt.Errorf("fee history: %w", err)
	}
	if hist == nil || len(hist.BaseFee) == 0 {
		return FeeQuote{}, errors.New("fee history: no base fees")
	}
	// the last entry is the base fee of the next block
	baseFee := hist.BaseFee[len(hist.BaseFee)-1]
	if baseFee == nil {
		return FeeQuote{}, errors.New("fee history: nil base fee")
	}

	var rewards []*big.Int
	for _, row := range hist.Reward {
		if len(row) > 0 && row[0] != nil {
			rewards = append(rewards, row[0])
		}
	}
	tip := median(rewards)
	if tip == nil {
		tip = new(big.Int).Set(e.policy.FallbackTip)
	}

	maxFee := new(big.Int).Mul(baseFee, big.NewInt(e.policy.BaseFeeMul))
	maxFee.Add(maxFee, tip)
	return FeeQuote{MaxFee: maxFee, PriorityFee: new(big.Int).Set(tip)}, nil
}

func (e *FeeEstimator) fromGasPrice(ctx context.Context) (FeeQuote, error) {
	gp, err := e.chain.SuggestGasPrice(ctx)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("gas price: %w", err)
	}
	if gp == nil || gp.Sign() <= 0 {
		return FeeQuote{}, errors.New("gas price: empty")
	}
	maxFee := mulFloatCeil(gp, e.policy.GasPriceMul)

	tip, err := e.chain.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = new(big.Int).Set(e.policy.FallbackTip)
	}
	if tip.Cmp(maxFee) > 0 {
		tip = new(big.Int).Set(maxFee)
	}

	// eth_gasPrice alone does not bound the base fee; lift maxFee when the head says so.
	if h, herr := e.chain.HeaderByNumber(ctx, nil); herr == nil && h != nil && h.BaseFee != nil {
		floor := new(big.Int).Add(h.BaseFee, tip)
		maxFee = maxBig(maxFee, floor)
	}
	return FeeQuote{MaxFee: maxFee, PriorityFee: tip}, nil
}

func median(xs []*big.Int) *big.Int {
	if len(xs) == 0 {
		return nil
	}
	s := make([]*big.Int, len(xs))
	copy(s, xs)
	sort.Slice(s, func(i, j int) bool { return s[i].Cmp(s[j]) < 0 })
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return new(big.Int).Set(s[mid])
	}
	sum := new(big.Int).Add(s[mid-1], s[mid])
	return sum.Quo(sum, big.NewInt(2))
}

// RewardStats aggregates one reward percentile over a fee history window.
type RewardStats struct {
	Percentile float64
	Min        *big.Int
	Median     *big.Int
	Avg        *big.Int
	Max        *big.Int
}

// FeeHistoryStats returns the next base fee and min/median/avg/max of each percentile
// over the last blocks.
func FeeHistoryStats(ctx context.Context, chain Chain, blocks uint64, percentiles []float64) (*big.Int, []RewardStats, error) {
	if blocks == 0 {
		blocks = 20
	}
	if len(percentiles) == 0 {
		percentiles = []float64{50, 95, 99}
	}
	hist, err := chain.FeeHistory(ctx, blocks, nil, percentiles)
	if err != nil {
		return nil, nil, err
	}
	var next *big.Int
	if len(hist.BaseFee) > 0 {
		next = hist.BaseFee[len(hist.BaseFee)-1]
	}
	if len(hist.Reward) == 0 {
		return next, nil, errors.New("fee history: empty reward")
	}

	out := make([]RewardStats, 0, len(percentiles))
	for j, p := range percentiles {
		var col []*big.Int
		for _, row := range hist.Reward {
			if j < len(row) && row[j] != nil {
				col = append(col, row[j])
			}
		}
		st := RewardStats{Percentile: p, Min: big.NewInt(0), Avg: big.NewInt(0), Max: big.NewInt(0), Median: big.NewInt(0)}
		if len(col) > 0 {
			st.Min = new(big.Int).Set(col[0])
			for _, v := range col {
				if v.Cmp(st.Min) < 0 {
					st.Min = new(big.Int).Set(v)
				}
				if v.Cmp(st.Max) > 0 {
					st.Max = new(big.Int).Set(v)
				}
				st.Avg.Add(st.Avg, v)
			}
			st.Avg.Quo(st.Avg, big.NewInt(int64(len(col))))
			st.Median = median(col)
		}
		out = append(out, st)
	}
	return next, out, nil
}
