package depositcore

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Build EIP-1559 transaction.
func buildDynamicTx(chain *big.Int, nonce uint64, to common.Address, value *big.Int, gasLimit uint64, quote FeeQuote, data []byte) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(chain),
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: new(big.Int).Set(quote.PriorityFee),
		GasFeeCap: new(big.Int).Set(quote.MaxFee),
		To:        &to,
		Value:     new(big.Int).Set(value),
		Data:      data,
	})
}

// Sign transaction with latest signer for given chain ID.
func signTx(tx *types.Transaction, chain *big.Int, prv *ecdsa.PrivateKey) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chain), prv)
}

// TxAsHex returns the raw signed transaction, 0x-prefixed.
func TxAsHex(tx *types.Transaction) string {
	b, err := tx.MarshalBinary()
	if err != nil {
		return ""
	}
	return hexutil.Encode(b)
}
