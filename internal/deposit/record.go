package deposit

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Field lengths accepted by the deposit contract.
const (
	PubkeyLen                = 48
	WithdrawalCredentialsLen = 32
	SignatureLen             = 96
	DataRootLen              = 32
)

// Entry is one element of a deposit_data.json file as written by staking-deposit-cli.
// Hex fields may carry a 0x prefix.
type Entry struct {
	Pubkey                string  `json:"pubkey"`
	WithdrawalCredentials string  `json:"withdrawal_credentials"`
	Amount                *uint64 `json:"amount,omitempty"`
	Signature             string  `json:"signature"`
	DepositMessageRoot    string  `json:"deposit_message_root,omitempty"`
	DepositDataRoot       string  `json:"deposit_data_root"`
	ForkVersion           string  `json:"fork_version,omitempty"`
	NetworkName           string  `json:"network_name,omitempty"`
}

// Record is a structurally valid deposit. Amount is in gwei; HasAmount tells an
// explicit zero from an entry that did not carry one.
type Record struct {
	Pubkey                [PubkeyLen]byte
	WithdrawalCredentials [WithdrawalCredentialsLen]byte
	Signature             [SignatureLen]byte
	DepositDataRoot       [DataRootLen]byte
	Amount                uint64
	HasAmount             bool
}

// ID is the ledger identity of the record: lowercase pubkey hex without 0x.
func (r *Record) ID() string { return hex.EncodeToString(r.Pubkey[:]) }

// ValidationError reports why an entry can not be submitted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NormalizeID maps any spelling of a pubkey (case, 0x prefix, padding) to its ledger identity.
func NormalizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "0x")
}

// ShortID is a log-friendly prefix of an identity.
func ShortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:8] + "…" + id[len(id)-4:]
}

// Parse validates the four hex fields and returns the decoded record.
func (e Entry) Parse() (*Record, error) {
	var r Record
	if err := decodeFixed("pubkey", e.Pubkey, r.Pubkey[:]); err != nil {
		return nil, err
	}
	if err := decodeFixed("withdrawal_credentials", e.WithdrawalCredentials, r.WithdrawalCredentials[:]); err != nil {
		return nil, err
	}
	if err := decodeFixed("signature", e.Signature, r.Signature[:]); err != nil {
		return nil, err
	}
	if err := decodeFixed("deposit_data_root", e.DepositDataRoot, r.DepositDataRoot[:]); err != nil {
		return nil, err
	}
	if e.Amount != nil {
		r.Amount = *e.Amount
		r.HasAmount = true
	}
	return &r, nil
}

func decodeFixed(field, s string, dst []byte) error {
	h := strings.TrimSpace(s)
	if len(h) >= 2 && h[0] == '0' && (h[1] == 'x' || h[1] == 'X') {
		h = h[2:]
	}
	if h == "" {
		return &ValidationError{Field: field, Reason: "missing"}
	}
	if len(h) != 2*len(dst) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("want %d bytes, got %d hex chars", len(dst), len(h))}
	}
	if _, err := hex.Decode(dst, []byte(h)); err != nil {
		return &ValidationError{Field: field, Reason: "malformed hex"}
	}
	return nil
}
