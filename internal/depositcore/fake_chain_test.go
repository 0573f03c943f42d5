package depositcore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/deposit-runner/internal/deposit"
)

var (
	oneGwei     = GweiToWei(1)
	depositWei  = new(big.Int).Mul(big.NewInt(32), bigEther)
	testChainID = big.NewInt(560048)
)

// fakeChain is an in-memory node. Accepted sends bump the pending nonce and, with
// mine set, get a receipt after receiptDelay NotFound answers.
type fakeChain struct {
	mu sync.Mutex

	balance    *big.Int
	balanceErr error
	nonce      uint64
	nonceErr   error

	baseFee    *big.Int
	rewards    []*big.Int
	feeHistErr error

	gasPrice      *big.Int
	gasPriceErr   error
	tipCap        *big.Int
	tipErr        error
	headerBaseFee *big.Int

	gasEstimate uint64
	estimateErr func(msg ethereum.CallMsg) error
	estimates   int

	sendErrs []error
	onSend   func(tx *types.Transaction)
	attempts []*types.Transaction
	sent     []*types.Transaction

	mine         bool
	revert       func(tx *types.Transaction) bool
	receiptDelay int
	receipts     map[common.Hash]*types.Receipt
	lookups      map[common.Hash]int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balance:     new(big.Int).Mul(big.NewInt(1000), bigEther),
		baseFee:     oneGwei,
		rewards:     []*big.Int{oneGwei},
		gasPrice:    GweiToWei(10),
		tipCap:      GweiToWei(2),
		gasEstimate: 60_000,
		mine:        true,
		receipts:    make(map[common.Hash]*types.Receipt),
		lookups:     make(map[common.Hash]int),
	}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, f.nonceErr
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if f.headerBaseFee == nil {
		return nil, errors.New("no header")
	}
	return &types.Header{Number: big.NewInt(100), BaseFee: f.headerBaseFee}, nil
}

func (f *fakeChain) FeeHistory(_ context.Context, blockCount uint64, _ *big.Int, pcts []float64) (*ethereum.FeeHistory, error) {
	if f.feeHistErr != nil {
		return nil, f.feeHistErr
	}
	h := &ethereum.FeeHistory{OldestBlock: big.NewInt(100)}
	for i := uint64(0); i <= blockCount; i++ {
		h.BaseFee = append(h.BaseFee, f.baseFee)
	}
	for i := 0; i < len(f.rewards); i++ {
		row := make([]*big.Int, len(pcts))
		for j := range row {
			row[j] = f.rewards[i]
		}
		h.Reward = append(h.Reward, row)
		h.GasUsedRatio = append(h.GasUsedRatio, 0.5)
	}
	return h, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, f.gasPriceErr
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tipCap, f.tipErr
}

func (f *fakeChain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	f.estimates++
	f.mu.Unlock()
	if f.estimateErr != nil {
		if err := f.estimateErr(msg); err != nil {
			return 0, err
		}
	}
	return f.gasEstimate, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, tx)
	var err error
	if len(f.sendErrs) > 0 {
		err = f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
	}
	accepted := err == nil
	var lost ackLost
	if errors.As(err, &lost) {
		accepted, err = true, lost.err
	}
	if accepted {
		f.sent = append(f.sent, tx)
		if tx.Nonce() >= f.nonce {
			f.nonce = tx.Nonce() + 1
		}
		if f.mine {
			status := types.ReceiptStatusSuccessful
			if f.revert != nil && f.revert(tx) {
				status = types.ReceiptStatusFailed
			}
			f.receipts[tx.Hash()] = &types.Receipt{
				Status:      status,
				TxHash:      tx.Hash(),
				GasUsed:     50_000,
				BlockNumber: big.NewInt(int64(200 + len(f.sent))),
			}
		}
	}
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(tx)
	}
	return err
}

// ackLost queued in sendErrs makes the node take the transaction while the
// caller still sees err, as with a timeout after the request was delivered.
type ackLost struct{ err error }

func (a ackLost) Error() string { return a.err.Error() }

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[h]++
	r, ok := f.receipts[h]
	if !ok || f.lookups[h] <= f.receiptDelay {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// testEntries returns n structurally valid entries with distinct pubkeys.
func testEntries(n int) []deposit.Entry {
	out := make([]deposit.Entry, n)
	for i := range out {
		seed := byte(0x10 + i)
		out[i] = deposit.Entry{
			Pubkey:                hex.EncodeToString(bytes.Repeat([]byte{seed}, deposit.PubkeyLen)),
			WithdrawalCredentials: "0x" + hex.EncodeToString(bytes.Repeat([]byte{0x01}, deposit.WithdrawalCredentialsLen)),
			Signature:             hex.EncodeToString(bytes.Repeat([]byte{seed ^ 0xff}, deposit.SignatureLen)),
			DepositDataRoot:       hex.EncodeToString(bytes.Repeat([]byte{seed ^ 0x0f}, deposit.DataRootLen)),
		}
	}
	return out
}

func mustRecord(t *testing.T, e deposit.Entry) *deposit.Record {
	t.Helper()
	rec, err := e.Parse()
	require.NoError(t, err)
	return rec
}

// pubkeyOf returns the record pubkey carried in deposit calldata.
func pubkeyOf(data []byte) string {
	// selector, 4 head words, length word
	const off = 4 + 4*32 + 32
	if len(data) < off+deposit.PubkeyLen {
		return ""
	}
	return hex.EncodeToString(data[off : off+deposit.PubkeyLen])
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.InterAttemptDelay = 0
	p.ConfirmationPollInterval = 0
	p.MaxConfirmationPolls = 3
	return p
}
