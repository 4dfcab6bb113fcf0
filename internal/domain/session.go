package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Stage string
type FlowKind string
type SettlementKind string

const (
	StageAwaitingConnection Stage = "awaiting_connection"
	StageAwaitingPayment    Stage = "awaiting_payment"
	StageSettling           Stage = "settling"
	StageAwaitingDetails    Stage = "awaiting_details"
	StageSubmitting         Stage = "submitting"
	StagePending            Stage = "pending"
	StageComplete           Stage = "complete"
	StageFailed             Stage = "failed"
)

const (
	FlowCardCreation FlowKind = "card_creation"
	FlowTopUp        FlowKind = "top_up"
)

const (
	SettlementDirectTransfer    SettlementKind = "direct_transfer"
	SettlementAllowanceApproval SettlementKind = "allowance_approval"
)

type UserDetails struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// WorkflowSession is the single source of truth for one card-creation or
// top-up attempt. It is mutated only by the workflow service, under its lock;
// everything user-visible derives from these fields.
type WorkflowSession struct {
	ID               string         `json:"id"`
	Kind             FlowKind       `json:"kind"`
	Stage            Stage          `json:"stage"`
	WalletAddress    common.Address `json:"wallet_address"`
	ChainID          int64          `json:"chain_id"`
	FeeAmount        *big.Int       `json:"fee_amount"`
	SettlementKind   SettlementKind `json:"settlement_kind"`
	PendingTxID      common.Hash    `json:"pending_tx_id"`
	ConfirmedTxID    common.Hash    `json:"confirmed_tx_id"`
	Details          *UserDetails   `json:"details,omitempty"`
	NotificationSent bool           `json:"notification_sent"`
	LastError        *FlowError     `json:"last_error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (s *WorkflowSession) Connected() bool {
	return s.WalletAddress != (common.Address{})
}

func (s *WorkflowSession) HasPendingTx() bool {
	return s.PendingTxID != (common.Hash{})
}

func (s *WorkflowSession) HasConfirmedTx() bool {
	return s.ConfirmedTxID != (common.Hash{})
}

func (s *WorkflowSession) Terminal() bool {
	return s.Stage == StageComplete || s.Stage == StageFailed
}

// StageEvent is pushed to connected clients whenever a session changes stage.
type StageEvent struct {
	SessionID  string     `json:"session_id"`
	Kind       FlowKind   `json:"kind"`
	Stage      Stage      `json:"stage"`
	Error      *FlowError `json:"error,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
