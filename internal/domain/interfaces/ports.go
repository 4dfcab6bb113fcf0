package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
)

// TransactionIntent is the settlement payload handed to the wallet provider
// for signing and broadcast. Value is in the chain's native unit; token
// settlements carry zero value and ERC20 call data.
type TransactionIntent struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Value   *big.Int       `json:"value"`
	Data    []byte         `json:"data"`
	ChainID int64          `json:"chain_id"`
}

// WalletStatus mirrors the connection state exposed by the wallet provider.
type WalletStatus struct {
	Connected bool           `json:"connected"`
	Address   common.Address `json:"address"`
	ChainID   int64          `json:"chain_id"`
}

// WalletProvider is the external wallet-connection collaborator. Submit
// succeeds once the transaction is accepted into the mempool; confirmation is
// the watcher's concern. Submission errors wrap the domain sentinels
// (ErrUserDeclined, ErrInsufficientFunds, ErrNetworkUnavailable).
type WalletProvider interface {
	Status(ctx context.Context) (WalletStatus, error)
	SubmitTransaction(ctx context.Context, intent TransactionIntent) (common.Hash, error)
}

// ReceiptSource looks up terminal transaction state on the ledger. A not-yet-
// mined transaction is reported via ethereum.NotFound.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ProvisioningNotifier dispatches card provisioning requests out-of-band. It
// reports success as a boolean and never panics or errors across the workflow
// boundary; retry policy belongs to the caller.
type ProvisioningNotifier interface {
	NotifyCardCreation(ctx context.Context, notice domain.CardCreationNotice) bool
	NotifyTopUp(ctx context.Context, notice domain.TopUpNotice) bool
}

// IdentityLookup resolves the requesting subdomain to an account identity.
type IdentityLookup interface {
	ForSubdomain(subdomain string) (domain.Identity, error)
}

// AttemptStore records payment attempts for reconciliation and audit.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	UpdateAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error
	LatestPendingByWallet(ctx context.Context, walletAddress string, chainID int64) (*domain.PaymentAttempt, error)
}

// StagePublisher pushes stage transitions to connected clients.
type StagePublisher interface {
	PublishStage(event domain.StageEvent)
}
