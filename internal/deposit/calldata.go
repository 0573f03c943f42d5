package deposit

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DepositContractABI keeps only deposit(); the rest of the contract is never called.
const DepositContractABI = `[{"inputs":[
  {"internalType":"bytes","name":"pubkey","type":"bytes"},
  {"internalType":"bytes","name":"withdrawal_credentials","type":"bytes"},
  {"internalType":"bytes","name":"signature","type":"bytes"},
  {"internalType":"bytes32","name":"deposit_data_root","type":"bytes32"}],
  "name":"deposit","outputs":[],"stateMutability":"payable","type":"function"}]`

var depositABI abi.ABI

func init() {
	ab, err := abi.JSON(strings.NewReader(DepositContractABI))
	if err != nil {
		panic(fmt.Sprintf("deposit abi: %v", err))
	}
	depositABI = ab
}

// Selector returns the 4-byte method id of deposit(bytes,bytes,bytes,bytes32).
func Selector() []byte {
	return append([]byte(nil), depositABI.Methods["deposit"].ID...)
}

// Calldata encodes deposit(pubkey, withdrawal_credentials, signature, deposit_data_root).
func Calldata(r *Record) ([]byte, error) {
	data, err := depositABI.Pack("deposit", r.Pubkey[:], r.WithdrawalCredentials[:], r.Signature[:], r.DepositDataRoot)
	if err != nil {
		return nil, fmt.Errorf("deposit pack: %w", err)
	}
	return data, nil
}
