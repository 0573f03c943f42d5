package deposit

import (
	"fmt"

	"github.com/karalabe/ssz"
)

// depositData is the consensus DepositData container; its hash tree root is the
// deposit_data_root the contract recomputes from msg.value and the call arguments.
type depositData struct {
	Pubkey                [PubkeyLen]byte
	WithdrawalCredentials [WithdrawalCredentialsLen]byte
	Amount                uint64
	Signature             [SignatureLen]byte
}

func (d *depositData) SizeSSZ() uint32 { return PubkeyLen + WithdrawalCredentialsLen + 8 + SignatureLen }

func (d *depositData) DefineSSZ(codec *ssz.Codec) {
	ssz.DefineStaticBytes(codec, &d.Pubkey)
	ssz.DefineStaticBytes(codec, &d.WithdrawalCredentials)
	ssz.DefineUint64(codec, &d.Amount)
	ssz.DefineStaticBytes(codec, &d.Signature)
}

// DataRoot computes hash_tree_root(DepositData) for the record at the given amount (gwei).
func DataRoot(r *Record, amountGwei uint64) [32]byte {
	return ssz.HashSequential(&depositData{
		Pubkey:                r.Pubkey,
		WithdrawalCredentials: r.WithdrawalCredentials,
		Amount:                amountGwei,
		Signature:             r.Signature,
	})
}

// Verify checks the record against the value that will be attached to the transaction.
// Entries without an amount can not be checked and pass.
func Verify(r *Record, valueGwei uint64) error {
	if !r.HasAmount {
		return nil
	}
	if r.Amount == 0 {
		return &ValidationError{Field: "amount", Reason: "zero"}
	}
	if r.Amount != valueGwei {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("entry carries %d gwei, configured deposit is %d gwei", r.Amount, valueGwei)}
	}
	if DataRoot(r, r.Amount) != r.DepositDataRoot {
		return &ValidationError{Field: "deposit_data_root", Reason: "does not match hash tree root of deposit data"}
	}
	return nil
}
