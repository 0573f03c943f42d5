package depositcore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ligun0805/deposit-runner/internal/deposit"
)

var (
	setupAttempts = retry.Attempts(3)
	setupDelay    = retry.Delay(400 * time.Millisecond)
	setupLastErr  = retry.LastErrorOnly(true)
)

// Ledger is the durable success set the driver consults and extends.
type Ledger interface {
	Contains(id string) bool
	MergeAndPersist(ids ...string) (int, error)
}

type State string

const (
	StateSkipped   State = "skipped"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateSimulated State = "simulated"
)

type SkipReason string

const (
	SkipAlreadyDone      SkipReason = "already_done"
	SkipInvalid          SkipReason = "invalid"
	SkipOverCapacity     SkipReason = "over_capacity"
	SkipEstimationFailed SkipReason = "estimation_failed"
)

type DriverConfig struct {
	Policy Policy
	// DepositValue is attached to every deposit call, in wei.
	DepositValue *big.Int
	// VerifyRoot checks amount and deposit_data_root locally for entries that carry an amount.
	VerifyRoot bool
	// DryRun signs but never sends, and never touches the ledger.
	DryRun bool
}

// BatchState is owned by a single Run. InFlight counts records whose funds may be
// committed without a confirmation: timed-out sends and dry-run simulations.
type BatchState struct {
	RemainingCapacity uint64
	Processed         uint64
	InFlight          uint64
	Nonce             uint64
}

func (s BatchState) used() uint64 { return s.Processed + s.InFlight }

type RecordOutcome struct {
	Index           int
	Pubkey          string
	State           State
	Reason          SkipReason
	Err             error
	TxHash          common.Hash
	Nonce           uint64
	Attempts        uint
	BlockNumber     uint64
	GasUsed         uint64
	LedgerPersisted bool
}

type Report struct {
	RunID       string
	Total       int
	Capacity    uint64
	Processed   uint64
	Confirmed   int
	Failed      int
	Simulated   int
	Skipped     map[SkipReason]int
	Halted      bool
	Interrupted bool
	Outcomes    []RecordOutcome
	State       BatchState
}

// CapacityInfo is the balance ceiling computed at batch start.
type CapacityInfo struct {
	Balance       *big.Int
	Quote         FeeQuote
	PerRecordCost *big.Int
	Records       uint64
}

type Driver struct {
	chain     Chain
	ledger    Ledger
	fees      *FeeEstimator
	submitter *Submitter
	waiter    *Waiter
	cfg       DriverConfig
	logger    *zap.Logger
	metrics   *Metrics
}

func NewDriver(
	chain Chain,
	led Ledger,
	fees *FeeEstimator,
	submitter *Submitter,
	waiter *Waiter,
	cfg DriverConfig,
	logger *zap.Logger,
	metrics *Metrics,
) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		chain:     chain,
		ledger:    led,
		fees:      fees,
		submitter: submitter,
		waiter:    waiter,
		cfg:       cfg,
		logger:    logger.With(zap.String("module", "driver")),
		metrics:   metrics,
	}
}

// Capacity divides the sender balance by the worst-case cost of one deposit at the
// current fee quote.
func (d *Driver) Capacity(ctx context.Context) (*CapacityInfo, error) {
	var bal *big.Int
	if err := retry.Do(func() error {
		var err error
		bal, err = d.chain.BalanceAt(ctx, d.submitter.From(), nil)
		return err
	}, setupAttempts, setupDelay, setupLastErr, retry.Context(ctx)); err != nil {
		return nil, fmt.Errorf("query balance of %s: %w", d.submitter.From().Hex(), err)
	}

	q := d.fees.Estimate(ctx)
	cost := PerRecordCost(d.cfg.DepositValue, d.cfg.Policy.GasReserve, q)
	if cost.Sign() <= 0 {
		return nil, errors.New("per-record cost is zero")
	}
	return &CapacityInfo{
		Balance:       bal,
		Quote:         q,
		PerRecordCost: cost,
		Records:       recordsFor(bal, cost),
	}, nil
}

// recordsFor is balance / cost, saturating at math.MaxUint64.
func recordsFor(balance, cost *big.Int) uint64 {
	n := new(big.Int).Quo(balance, cost)
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}

// Run processes entries in order, one at a time. It returns an error only when the
// batch can not start; per-record failures are in the report. Cancellation of ctx is
// honored between records, never in the middle of one.
func (d *Driver) Run(ctx context.Context, entries []deposit.Entry) (*Report, error) {
	rep := &Report{
		RunID:   uuid.NewString(),
		Total:   len(entries),
		Skipped: make(map[SkipReason]int),
	}
	log := d.logger.With(zap.String("run_id", rep.RunID))

	capInfo, err := d.Capacity(ctx)
	if err != nil {
		return nil, err
	}
	var nonce uint64
	if err := retry.Do(func() error {
		var err error
		nonce, err = d.chain.PendingNonceAt(ctx, d.submitter.From())
		return err
	}, setupAttempts, setupDelay, setupLastErr, retry.Context(ctx)); err != nil {
		return nil, fmt.Errorf("query nonce of %s: %w", d.submitter.From().Hex(), err)
	}

	state := BatchState{RemainingCapacity: capInfo.Records, Nonce: nonce}
	rep.Capacity = capInfo.Records
	d.metrics.setCapacity(capInfo.Records)
	log.Info("batch start",
		zap.Int("records", len(entries)),
		zap.String("sender", d.submitter.From().Hex()),
		zap.String("balance_eth", FormatETH(capInfo.Balance)),
		zap.String("per_record_eth", FormatETH(capInfo.PerRecordCost)),
		zap.Uint64("capacity", capInfo.Records),
		zap.Uint64("nonce", nonce),
		zap.Bool("dry_run", d.cfg.DryRun),
	)

	valueGwei := WeiToGwei(d.cfg.DepositValue)
	seen := make(map[string]struct{}, len(entries))

	for i, e := range entries {
		if ctx.Err() != nil {
			rep.Interrupted = true
			log.Warn("batch interrupted", zap.Int("next_index", i))
			break
		}

		out := RecordOutcome{Index: i, Pubkey: deposit.NormalizeID(e.Pubkey)}
		if out.Pubkey != "" && d.ledger.Contains(out.Pubkey) {
			d.skip(log, rep, out, SkipAlreadyDone, nil)
			continue
		}

		rec, err := e.Parse()
		if err == nil {
			if _, dup := seen[rec.ID()]; dup {
				err = &deposit.ValidationError{Field: "pubkey", Reason: "duplicate in batch"}
			}
			seen[rec.ID()] = struct{}{}
		}
		if err == nil && d.cfg.VerifyRoot {
			err = deposit.Verify(rec, valueGwei)
		}
		if err != nil {
			d.skip(log, rep, out, SkipInvalid, err)
			continue
		}

		if state.used() >= state.RemainingCapacity {
			d.skip(log, rep, out, SkipOverCapacity, nil)
			rep.Halted = true
			log.Warn("balance exhausted, halting batch",
				zap.Uint64("capacity", state.RemainingCapacity),
				zap.Uint64("processed", state.Processed),
				zap.Uint64("in_flight", state.InFlight),
				zap.Int("remaining_records", len(entries)-i),
			)
			break
		}

		// a record that reached submission runs to a terminal state
		out = d.process(context.WithoutCancel(ctx), log, rec, out, &state)
		switch out.State {
		case StateSkipped:
			rep.Skipped[out.Reason]++
		case StateConfirmed:
			rep.Confirmed++
		case StateFailed:
			rep.Failed++
		case StateSimulated:
			rep.Simulated++
		}
		d.metrics.recordOutcome(string(out.State), string(out.Reason))
		rep.Outcomes = append(rep.Outcomes, out)
	}

	rep.Processed = state.Processed
	rep.State = state
	log.Info("batch done",
		zap.Uint64("processed", state.Processed),
		zap.Int("total", rep.Total),
		zap.Int("confirmed", rep.Confirmed),
		zap.Int("failed", rep.Failed),
		zap.Int("simulated", rep.Simulated),
		zap.Any("skipped", rep.Skipped),
		zap.Bool("halted", rep.Halted),
		zap.Bool("interrupted", rep.Interrupted),
	)
	return rep, nil
}

func (d *Driver) skip(log *zap.Logger, rep *Report, out RecordOutcome, reason SkipReason, err error) {
	out.State = StateSkipped
	out.Reason = reason
	out.Err = err
	rep.Skipped[reason]++
	rep.Outcomes = append(rep.Outcomes, out)
	d.metrics.recordOutcome(string(StateSkipped), string(reason))

	fields := []zap.Field{
		zap.Int("index", out.Index),
		zap.String("pubkey", deposit.ShortID(out.Pubkey)),
		zap.String("reason", string(reason)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	log.Info("record skipped", fields...)
}

func (d *Driver) process(ctx context.Context, log *zap.Logger, rec *deposit.Record, out RecordOutcome, state *BatchState) RecordOutcome {
	log = log.With(zap.Int("index", out.Index), zap.String("pubkey", deposit.ShortID(out.Pubkey)))
	quote := d.fees.Estimate(ctx)
	out.Nonce = state.Nonce
	log.Info("record attempting", zap.Uint64("nonce", state.Nonce), zap.String("quote", quote.String()))

	if d.cfg.DryRun {
		return d.simulate(ctx, log, rec, out, state, quote)
	}

	h, sendErr := d.submitter.Submit(ctx, rec, state.Nonce, quote)
	if sendErr != nil {
		var est *EstimationError
		if errors.As(sendErr, &est) {
			out.State = StateSkipped
			out.Reason = SkipEstimationFailed
			out.Err = sendErr
			log.Warn("record skipped, deposit would revert", zap.Error(sendErr))
			return out
		}
		if h == nil {
			out.State = StateFailed
			out.Err = sendErr
			d.resyncNonce(ctx, log, state)
			log.Error("record failed to send", zap.Error(sendErr))
			return out
		}
		log.Warn("send unacknowledged, polling hashes the node may hold",
			zap.Int("candidates", len(h.Candidates)),
			zap.Error(sendErr),
		)
	} else {
		state.Nonce = h.Nonce + 1
	}
	out.TxHash = h.Hash
	out.Attempts = h.Attempts

	res := d.waiter.Await(ctx, h)
	out.TxHash = res.Hash
	out.BlockNumber = res.BlockNumber
	out.GasUsed = res.GasUsed

	if sendErr != nil {
		// a mined candidate consumed the nonce; otherwise ask the pool
		if res.Status == TimedOut {
			d.resyncNonce(ctx, log, state)
		} else if state.Nonce <= h.Nonce {
			state.Nonce = h.Nonce + 1
		}
	}

	switch res.Status {
	case Confirmed:
		out.State = StateConfirmed
		state.Processed++
		d.metrics.setProcessed(state.Processed)
		n, err := d.ledger.MergeAndPersist(out.Pubkey)
		if err != nil {
			out.Err = err
			log.Error("deposit confirmed but ledger write failed",
				zap.String("tx", res.Hash.Hex()),
				zap.Error(err),
			)
		} else {
			out.LedgerPersisted = true
		}
		log.Info("record confirmed",
			zap.String("tx", res.Hash.Hex()),
			zap.Uint64("block", res.BlockNumber),
			zap.Uint64("gas_used", res.GasUsed),
			zap.Int("ledger_size", n),
			zap.Uint64("processed", state.Processed),
		)
	case Reverted:
		out.State = StateFailed
		out.Err = fmt.Errorf("deposit reverted in block %d", res.BlockNumber)
		log.Error("record reverted", zap.String("tx", res.Hash.Hex()), zap.Uint64("block", res.BlockNumber))
	default:
		out.State = StateFailed
		out.Err = fmt.Errorf("no receipt after %d polls", res.Polls)
		state.InFlight++
		log.Error("record timed out, retry on next run", zap.String("tx", res.Hash.Hex()), zap.Uint("polls", res.Polls))
	}
	if sendErr != nil && out.State == StateFailed {
		out.Err = errors.Join(sendErr, out.Err)
	}
	return out
}

func (d *Driver) simulate(ctx context.Context, log *zap.Logger, rec *deposit.Record, out RecordOutcome, state *BatchState, quote FeeQuote) RecordOutcome {
	tx, err := d.submitter.Prepare(ctx, rec, state.Nonce, quote)
	if err != nil {
		var est *EstimationError
		if errors.As(err, &est) {
			out.State = StateSkipped
			out.Reason = SkipEstimationFailed
		} else {
			out.State = StateFailed
		}
		out.Err = err
		log.Warn("dry-run: deposit not signable", zap.Error(err))
		return out
	}
	out.State = StateSimulated
	out.TxHash = tx.Hash()
	state.Nonce++
	state.InFlight++
	log.Info("dry-run: signed, not sent",
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("gas_limit", tx.Gas()),
		zap.String("calldata", "0x"+hex.EncodeToString(tx.Data())),
		zap.String("raw", TxAsHex(tx)),
	)
	return out
}

// resyncNonce only ever moves the nonce forward: a failed record may still have
// landed one of its attempts in the pool.
func (d *Driver) resyncNonce(ctx context.Context, log *zap.Logger, state *BatchState) {
	n, err := d.chain.PendingNonceAt(ctx, d.submitter.From())
	if err != nil {
		log.Warn("nonce resync failed", zap.Error(err))
		return
	}
	if n > state.Nonce {
		log.Info("nonce advanced by chain", zap.Uint64("from", state.Nonce), zap.Uint64("to", n))
		state.Nonce = n
	}
}
