package attemptrepo

import (
	"context"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
)

type IAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
	UpdateAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error
	LatestPendingByWallet(ctx context.Context, walletAddress string, chainID int64) (*domain.PaymentAttempt, error)
}
