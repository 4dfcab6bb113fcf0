package attemptrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/sqlc-dev/pqtype"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/infrastructure/database"
)

type attemptRepositoryImpl struct {
	db     *sql.DB
	logger zerolog.Logger
}

func New(db *database.DBManager, logger zerolog.Logger) IAttemptRepository {
	return &attemptRepositoryImpl{
		db:     db.Db,
		logger: logger,
	}
}

func (r *attemptRepositoryImpl) RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	const query = `
		INSERT INTO payment_attempts (
			id, session_id, flow_kind, wallet_address, chain_id,
			tx_hash, amount, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	now := time.Now().UTC()
	metadata := pqtype.NullRawMessage{RawMessage: attempt.Metadata, Valid: attempt.Metadata != nil}

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.SessionID,
		string(attempt.FlowKind),
		attempt.WalletAddress,
		attempt.ChainID,
		attempt.TxHash,
		attempt.Amount,
		string(attempt.Status),
		metadata,
		now,
	)
	if err != nil {
		r.logger.Error().Err(err).Str("tx_hash", attempt.TxHash).Msg("Failed to record payment attempt")
		return fmt.Errorf("failed to record payment attempt: %w", err)
	}

	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	return nil
}

func (r *attemptRepositoryImpl) UpdateAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error {
	const query = `
		UPDATE payment_attempts
		SET status = $2, updated_at = $3
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, attemptID, string(status), time.Now().UTC())
	if err != nil {
		r.logger.Error().Err(err).Str("attempt_id", attemptID).Str("status", string(status)).Msg("Failed to update payment attempt status")
		return fmt.Errorf("failed to update payment attempt status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("payment attempt %s not found", attemptID)
	}

	return nil
}

func (r *attemptRepositoryImpl) LatestPendingByWallet(ctx context.Context, walletAddress string, chainID int64) (*domain.PaymentAttempt, error) {
	const query = `
		SELECT id, session_id, flow_kind, wallet_address, chain_id,
		       tx_hash, amount, status, metadata, created_at, updated_at
		FROM payment_attempts
		WHERE wallet_address = $1 AND chain_id = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`

	var (
		attempt  domain.PaymentAttempt
		flowKind string
		status   string
		metadata pqtype.NullRawMessage
	)

	row := r.db.QueryRowContext(ctx, query, walletAddress, chainID, string(domain.AttemptStatusPending))
	err := row.Scan(
		&attempt.ID,
		&attempt.SessionID,
		&flowKind,
		&attempt.WalletAddress,
		&attempt.ChainID,
		&attempt.TxHash,
		&attempt.Amount,
		&status,
		&metadata,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error().Err(err).Str("wallet_address", walletAddress).Msg("Failed to load pending payment attempt")
		return nil, fmt.Errorf("failed to load pending payment attempt: %w", err)
	}

	attempt.FlowKind = domain.FlowKind(flowKind)
	attempt.Status = domain.AttemptStatus(status)
	if metadata.Valid {
		attempt.Metadata = metadata.RawMessage
	}

	return &attempt, nil
}
