package domain

import "errors"

type FailureReason string

const (
	ReasonConnectionRequired FailureReason = "connection_required"
	ReasonWalletDeclined     FailureReason = "wallet_declined"
	ReasonInsufficientFunds  FailureReason = "insufficient_funds"
	ReasonNetworkUnavailable FailureReason = "network_unavailable"
	ReasonOnChainReverted    FailureReason = "onchain_reverted"
	ReasonWatcherTimeout     FailureReason = "watcher_timeout"
	ReasonInvalidAmount      FailureReason = "invalid_amount"
	ReasonNotificationFailed FailureReason = "notification_failed"
)

// Wallet-level submission outcomes surfaced by the wallet provider. The
// workflow classifies these into failure reasons.
var (
	ErrUserDeclined       = errors.New("user declined transaction")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNetworkUnavailable = errors.New("network unavailable")
)

// FlowError is the structured failure carried by a session. FundsMoved tells
// the user whether their payment may have been affected: false means no funds
// left the wallet, true means settlement happened (or may still happen) even
// though the flow failed.
type FlowError struct {
	Reason     FailureReason `json:"reason"`
	Message    string        `json:"message"`
	FundsMoved bool          `json:"funds_moved"`
}

func (e *FlowError) Error() string {
	return string(e.Reason) + ": " + e.Message
}

func NewFlowError(reason FailureReason, message string) *FlowError {
	return &FlowError{
		Reason:     reason,
		Message:    message,
		FundsMoved: fundsMoved(reason),
	}
}

func fundsMoved(reason FailureReason) bool {
	switch reason {
	case ReasonNotificationFailed:
		// Settlement already confirmed; only the provisioning step failed.
		return true
	case ReasonWatcherTimeout:
		// The transaction was broadcast and may still confirm out-of-band.
		return true
	default:
		return false
	}
}

// ClassifySubmitError maps a settlement submission error onto the taxonomy.
func ClassifySubmitError(err error) FailureReason {
	switch {
	case errors.Is(err, ErrUserDeclined):
		return ReasonWalletDeclined
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	default:
		return ReasonNetworkUnavailable
	}
}
