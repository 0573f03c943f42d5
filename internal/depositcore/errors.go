package depositcore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrNonceConsumed means the chain already holds a transaction at the nonce we
	// were about to use, and none of ours is known to be it.
	ErrNonceConsumed = errors.New("nonce already consumed")

	errNotYetMined = errors.New("receipt not found yet")
)

// EstimationError means eth_estimateGas rejected the deposit call: it would revert.
type EstimationError struct {
	Err error
}

func (e *EstimationError) Error() string { return "gas estimation failed: " + e.Err.Error() }
func (e *EstimationError) Unwrap() error { return e.Err }

// SubmissionError is returned once every send attempt for a record failed.
type SubmissionError struct {
	Attempts uint
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("send failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *SubmissionError) Unwrap() error { return e.Err }

type sendResult int

const (
	sendOK sendResult = iota
	sendAlreadyKnown
	sendNonceTooLow
	sendUnderpriced
	sendInsufficientFunds
	sendTransient
)

func (r sendResult) String() string {
	switch r {
	case sendOK:
		return "ok"
	case sendAlreadyKnown:
		return "already_known"
	case sendNonceTooLow:
		return "nonce_too_low"
	case sendUnderpriced:
		return "underpriced"
	case sendInsufficientFunds:
		return "insufficient_funds"
	default:
		return "error"
	}
}

// classifySendError maps node error strings of eth_sendRawTransaction to what the
// submitter does next. Geth, Nethermind, Erigon and Besu word these differently.
func classifySendError(err error) sendResult {
	if err == nil {
		return sendOK
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "already known"),
		strings.Contains(s, "alreadyknown"),
		strings.Contains(s, "known transaction"),
		strings.Contains(s, "already imported"):
		return sendAlreadyKnown
	case strings.Contains(s, "nonce too low"),
		strings.Contains(s, "oldnonce"),
		strings.Contains(s, "nonce has already been used"):
		return sendNonceTooLow
	case strings.Contains(s, "underpriced"),
		strings.Contains(s, "fee too low"),
		strings.Contains(s, "feetoolow"),
		strings.Contains(s, "max fee per gas less than block base fee"):
		return sendUnderpriced
	case strings.Contains(s, "insufficient funds"):
		return sendInsufficientFunds
	}
	return sendTransient
}

// classifyRPCError labels transport failures for logs.
func classifyRPCError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "context deadline exceeded") {
		return "rpc_timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "rpc_timeout"
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "connection reset") || strings.Contains(s, "broken pipe") || strings.Contains(s, "eof") || strings.Contains(s, "connection refused") {
		return "rpc_unavailable"
	}
	if strings.Contains(s, "too many requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429") {
		return "rpc_rate_limited"
	}
	return "rpc_error"
}
