package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain/interfaces"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

// Strategy encapsulates how a fee is settled on the ledger. Submit succeeds
// once the transaction is accepted into the mempool; both variants return the
// same transaction hash abstraction so the workflow stays settlement-agnostic.
type Strategy interface {
	Kind() domain.SettlementKind
	Submit(ctx context.Context, session *domain.WorkflowSession) (common.Hash, error)
}

func New(cfg config.SettlementConfig, wallet interfaces.WalletProvider, logger zerolog.Logger) (Strategy, error) {
	if !common.IsHexAddress(cfg.AssetAddress) {
		return nil, fmt.Errorf("invalid asset address: %s", cfg.AssetAddress)
	}
	if !common.IsHexAddress(cfg.TreasuryAddress) {
		return nil, fmt.Errorf("invalid treasury address: %s", cfg.TreasuryAddress)
	}

	base := baseStrategy{
		asset:    common.HexToAddress(cfg.AssetAddress),
		treasury: common.HexToAddress(cfg.TreasuryAddress),
		wallet:   wallet,
		logger:   logger,
	}

	switch domain.SettlementKind(cfg.Kind) {
	case domain.SettlementDirectTransfer:
		return &directTransfer{base}, nil
	case domain.SettlementAllowanceApproval:
		return &allowanceApproval{base}, nil
	default:
		return nil, fmt.Errorf("unknown settlement kind: %s", cfg.Kind)
	}
}

type baseStrategy struct {
	asset    common.Address
	treasury common.Address
	wallet   interfaces.WalletProvider
	logger   zerolog.Logger
}

func (b *baseStrategy) submitCall(ctx context.Context, session *domain.WorkflowSession, data []byte, action string) (common.Hash, error) {
	intent := interfaces.TransactionIntent{
		From:    session.WalletAddress,
		To:      b.asset,
		Value:   big.NewInt(0),
		Data:    data,
		ChainID: session.ChainID,
	}

	txHash, err := b.wallet.SubmitTransaction(ctx, intent)
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str("session_id", session.ID).
			Str("action", action).
			Msg("Settlement submission rejected")
		return common.Hash{}, fmt.Errorf("failed to submit %s: %w", action, err)
	}

	b.logger.Info().
		Str("session_id", session.ID).
		Str("action", action).
		Str("tx_hash", txHash.Hex()).
		Msg("Settlement transaction accepted into mempool")

	return txHash, nil
}

// directTransfer sends feeAmount of the asset straight to the treasury.
type directTransfer struct {
	baseStrategy
}

func (s *directTransfer) Kind() domain.SettlementKind {
	return domain.SettlementDirectTransfer
}

func (s *directTransfer) Submit(ctx context.Context, session *domain.WorkflowSession) (common.Hash, error) {
	data := PackTransfer(s.treasury, session.FeeAmount)
	return s.submitCall(ctx, session, data, "transfer")
}

// allowanceApproval grants the treasury an allowance of feeAmount, redeemable
// later by the issuer.
type allowanceApproval struct {
	baseStrategy
}

func (s *allowanceApproval) Kind() domain.SettlementKind {
	return domain.SettlementAllowanceApproval
}

func (s *allowanceApproval) Submit(ctx context.Context, session *domain.WorkflowSession) (common.Hash, error) {
	data := PackApprove(s.treasury, session.FeeAmount)
	return s.submitCall(ctx, session, data, "approve")
}
