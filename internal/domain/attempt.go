package domain

import (
	"encoding/json"
	"time"
)

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusConfirmed AttemptStatus = "confirmed"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusAbandoned AttemptStatus = "abandoned"
)

// PaymentAttempt is the durable audit record of a single ledger submission.
// Sessions themselves are not persisted; attempts exist so a reopened session
// can reconcile a dangling pending transaction before paying again.
type PaymentAttempt struct {
	ID            string          `json:"id" db:"id"`
	SessionID     string          `json:"session_id" db:"session_id"`
	FlowKind      FlowKind        `json:"flow_kind" db:"flow_kind"`
	WalletAddress string          `json:"wallet_address" db:"wallet_address"`
	ChainID       int64           `json:"chain_id" db:"chain_id"`
	TxHash        string          `json:"tx_hash" db:"tx_hash"`
	Amount        string          `json:"amount" db:"amount"`
	Status        AttemptStatus   `json:"status" db:"status"`
	Metadata      json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}
