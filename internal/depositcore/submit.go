package depositcore

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/ligun0805/deposit-runner/internal/deposit"
)

// TxHandle identifies a deposit the pool accepted. Every attempt for a record shares
// one nonce, so any of Candidates may be the one that gets mined.
type TxHandle struct {
	Hash       common.Hash
	Candidates []common.Hash
	Nonce      uint64
	GasLimit   uint64
	Quote      FeeQuote
	Attempts   uint
	SentAt     time.Time
}

type Submitter struct {
	chain    Chain
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	value    *big.Int
	policy   Policy
	logger   *zap.Logger
	metrics  *Metrics
}

func NewSubmitter(
	chain Chain,
	key *ecdsa.PrivateKey,
	contract common.Address,
	chainID *big.Int,
	value *big.Int,
	policy Policy,
	logger *zap.Logger,
	metrics *Metrics,
) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		chain:    chain,
		key:      key,
		from:     gethcrypto.PubkeyToAddress(key.PublicKey),
		contract: contract,
		chainID:  new(big.Int).Set(chainID),
		value:    new(big.Int).Set(value),
		policy:   policy,
		logger:   logger.With(zap.String("module", "submitter")),
		metrics:  metrics,
	}
}

func (s *Submitter) From() common.Address { return s.from }

// GasLimit asks the node for an estimate of the deposit call and adds the buffer.
// Any failure is an *EstimationError.
func (s *Submitter) GasLimit(ctx context.Context, data []byte) (uint64, error) {
	est, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.from,
		To:    &s.contract,
		Value: s.value,
		Data:  data,
	})
	if err != nil {
		return 0, &EstimationError{Err: err}
	}
	if est == 0 {
		return 0, &EstimationError{Err: fmt.Errorf("node returned zero gas")}
	}
	return est * (100 + s.policy.GasBufferPct) / 100, nil
}

// Prepare estimates, builds and signs the deposit without sending it.
func (s *Submitter) Prepare(ctx context.Context, rec *deposit.Record, nonce uint64, quote FeeQuote) (*types.Transaction, error) {
	data, err := deposit.Calldata(rec)
	if err != nil {
		return nil, err
	}
	gasLimit, err := s.GasLimit(ctx, data)
	if err != nil {
		return nil, err
	}
	return signTx(buildDynamicTx(s.chainID, nonce, s.contract, s.value, gasLimit, quote, data), s.chainID, s.key)
}

// Submit sends the deposit at nonce. Retries reuse the nonce so a later attempt
// replaces an earlier one in the pool, and each retry raises the fee by the
// escalation factor. A gas estimation failure returns before anything is signed.
//
// When every attempt fails but some of them ended in a transport error, the
// returned handle carries those hashes alongside the *SubmissionError.
func (s *Submitter) Submit(ctx context.Context, rec *deposit.Record, nonce uint64, quote FeeQuote) (*TxHandle, error) {
	data, err := deposit.Calldata(rec)
	if err != nil {
		return nil, err
	}
	gasLimit, err := s.GasLimit(ctx, data)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(
		zap.String("pubkey", deposit.ShortID(rec.ID())),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
	)

	h := &TxHandle{Nonce: nonce, GasLimit: gasLimit}
	q := quote
	var attempt uint
	maxAttempts := s.policy.sendAttempts()

	err = retry.Do(func() error {
		attempt++
		if attempt > 1 {
			q = Escalate(q, s.policy.escalation())
		}
		tx, err := signTx(buildDynamicTx(s.chainID, nonce, s.contract, s.value, gasLimit, q, data), s.chainID, s.key)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("sign: %w", err))
		}
		s.metrics.setMaxFee(gweiFloat(q.MaxFee))

		sendErr := s.chain.SendTransaction(ctx, tx)
		res := classifySendError(sendErr)
		s.metrics.sendAttempt(res.String())

		switch res {
		case sendOK, sendAlreadyKnown:
			h.Hash = tx.Hash()
			h.Candidates = appendUnique(h.Candidates, tx.Hash())
			h.Quote = q
			h.Attempts = attempt
			h.SentAt = time.Now()
			log.Info("deposit sent",
				zap.String("tx", tx.Hash().Hex()),
				zap.Uint("attempt", attempt),
				zap.String("result", res.String()),
				zap.String("max_fee_gwei", FormatGwei(q.MaxFee)),
				zap.String("tip_gwei", FormatGwei(q.PriorityFee)),
			)
			return nil
		case sendNonceTooLow:
			if len(h.Candidates) > 0 {
				// one of our earlier sends took the nonce
				h.Attempts = attempt
				return nil
			}
			return retry.Unrecoverable(fmt.Errorf("%w: %v", ErrNonceConsumed, sendErr))
		case sendInsufficientFunds:
			return retry.Unrecoverable(sendErr)
		case sendTransient:
			// the node may have taken it before the error; keep the hash in case it gets mined
			h.Candidates = appendUnique(h.Candidates, tx.Hash())
			h.Hash = tx.Hash()
			h.Quote = q
		}
		return fmt.Errorf("%s: %w", res, sendErr)
	},
		retry.Attempts(maxAttempts),
		retry.Delay(s.policy.InterAttemptDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("send attempt failed, retrying with higher fee",
				zap.Uint("attempt", n+1),
				zap.Uint("max_attempts", maxAttempts),
				zap.String("class", classifyRPCError(err)),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		serr := &SubmissionError{Attempts: attempt, Err: err}
		if len(h.Candidates) > 0 {
			// the node may hold any of these; the caller still has to poll them
			h.Attempts = attempt
			return h, serr
		}
		return nil, serr
	}
	return h, nil
}

func appendUnique(hs []common.Hash, h common.Hash) []common.Hash {
	for _, x := range hs {
		if x == h {
			return hs
		}
	}
	return append(hs, h)
}
