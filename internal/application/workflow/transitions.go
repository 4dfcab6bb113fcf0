package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/watcher"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/token"
)

// ConnectWallet records the connected account. The address is set once and is
// immutable for the life of the session.
func (s *Service) ConnectWallet(ctx context.Context, sessionID, address string, chainID int64) (domain.WorkflowSession, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Stage != domain.StageAwaitingConnection {
		return snapshot(st.session), fmt.Errorf("session %s is not awaiting connection (stage %s)", sessionID, st.session.Stage)
	}
	if !common.IsHexAddress(address) {
		return snapshot(st.session), domain.NewFlowError(domain.ReasonConnectionRequired, "wallet address is empty or malformed")
	}
	if chainID != s.chainID {
		return snapshot(st.session), fmt.Errorf("wallet is on chain %d, expected %d", chainID, s.chainID)
	}

	st.session.WalletAddress = common.HexToAddress(address)
	s.setStage(st, domain.StageAwaitingPayment)

	s.logger.Info().
		Str("session_id", sessionID).
		Str("wallet_address", address).
		Int64("chain_id", chainID).
		Msg("Wallet connected")

	return snapshot(st.session), nil
}

// ConfirmPayment submits the settlement transaction and starts watching it.
// A new payment may not be submitted while one is already in flight.
func (s *Service) ConfirmPayment(ctx context.Context, sessionID string) (domain.WorkflowSession, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.session.Connected() {
		return snapshot(st.session), domain.NewFlowError(domain.ReasonConnectionRequired, "connect a wallet before paying")
	}
	if st.session.HasPendingTx() {
		return snapshot(st.session), fmt.Errorf("session %s already has an in-flight transaction", sessionID)
	}
	if st.session.Stage != domain.StageAwaitingPayment {
		return snapshot(st.session), fmt.Errorf("session %s is not awaiting payment (stage %s)", sessionID, st.session.Stage)
	}

	s.setStage(st, domain.StageSettling)
	s.reconcileDangling(ctx, st)

	txHash, err := s.strategy.Submit(ctx, st.session)
	if err != nil {
		s.fail(st, domain.ClassifySubmitError(err), err.Error())
		return snapshot(st.session), nil
	}

	st.session.PendingTxID = txHash
	st.attemptID = s.recordAttempt(ctx, st, txHash)
	s.startWatch(st)

	return snapshot(st.session), nil
}

// SubmitDetails captures the cardholder identity and dispatches the
// provisioning notification. Card-creation sessions only.
func (s *Service) SubmitDetails(ctx context.Context, sessionID, firstName, lastName string) (domain.WorkflowSession, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session.Kind != domain.FlowCardCreation {
		return snapshot(st.session), fmt.Errorf("session %s is not a card-creation session", sessionID)
	}
	if st.session.Stage != domain.StageAwaitingDetails {
		return snapshot(st.session), fmt.Errorf("session %s is not awaiting details (stage %s)", sessionID, st.session.Stage)
	}
	if firstName == "" || lastName == "" {
		return snapshot(st.session), fmt.Errorf("first and last name are both required")
	}

	st.session.Details = &domain.UserDetails{FirstName: firstName, LastName: lastName}
	s.setStage(st, domain.StageSubmitting)
	s.dispatchNotification(ctx, st)

	return snapshot(st.session), nil
}

// RetryNotification re-dispatches the provisioning notification after a
// NotificationFailed outcome. Settlement already succeeded, so the same
// confirmed transaction is reused and the ledger is never touched.
func (s *Service) RetryNotification(ctx context.Context, sessionID string) (domain.WorkflowSession, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !retryableNotification(st.session) {
		return snapshot(st.session), fmt.Errorf("session %s is not eligible for notification retry", sessionID)
	}
	if st.session.Kind == domain.FlowCardCreation && st.session.Details == nil {
		s.setStage(st, domain.StageAwaitingDetails)
		return snapshot(st.session), nil
	}

	s.setStage(st, domain.StageSubmitting)
	s.dispatchNotification(ctx, st)

	return snapshot(st.session), nil
}

// Restart recovers a failed session. NotificationFailed resumes at the
// notification step without re-charging; every other failure requires the
// payment to be attempted again.
func (s *Service) Restart(ctx context.Context, sessionID string) (domain.WorkflowSession, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	st.mu.Lock()

	if st.session.Stage != domain.StageFailed || st.session.LastError == nil {
		defer st.mu.Unlock()
		return snapshot(st.session), fmt.Errorf("session %s has not failed", sessionID)
	}

	if st.session.LastError.Reason == domain.ReasonNotificationFailed {
		st.mu.Unlock()
		return s.RetryNotification(ctx, sessionID)
	}

	defer st.mu.Unlock()

	if st.session.Connected() {
		s.setStage(st, domain.StageAwaitingPayment)
	} else {
		s.setStage(st, domain.StageAwaitingConnection)
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("stage", string(st.session.Stage)).
		Msg("Failed session restarted")

	return snapshot(st.session), nil
}

// startWatch must be called with st.mu held.
func (s *Service) startWatch(st *sessionState) {
	watchCtx, cancel := context.WithCancel(context.Background())
	st.cancelWatch = cancel

	results := s.watcher.Watch(watchCtx, st.session.PendingTxID)

	go func() {
		result, ok := <-results
		if !ok {
			// Watch cancelled; the session was abandoned.
			return
		}
		s.onWatchResult(st, result)
	}()
}

func (s *Service) onWatchResult(st *sessionState, result watcher.Result) {
	ctx := context.Background()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.cancelWatch = nil
	if st.session.PendingTxID != result.TxHash {
		// Stale watch; a newer payment attempt superseded it.
		return
	}
	st.session.PendingTxID = common.Hash{}

	switch result.Outcome {
	case watcher.OutcomeConfirmed:
		s.markConfirmed(ctx, st, result.TxHash)
	case watcher.OutcomeReverted:
		s.markAttempt(ctx, st, domain.AttemptStatusFailed)
		s.fail(st, domain.ReasonOnChainReverted, fmt.Sprintf("transaction %s reverted on chain", result.TxHash.Hex()))
	case watcher.OutcomeDropped:
		// The broadcast transaction may still confirm out-of-band, so the
		// attempt stays pending and the next payment's probe settles it.
		s.fail(st, domain.ReasonWatcherTimeout, fmt.Sprintf("transaction %s did not confirm in time", result.TxHash.Hex()))
	}
}

// markConfirmed must be called with st.mu held. ConfirmedTxID is set at most
// once and never changes afterwards.
func (s *Service) markConfirmed(ctx context.Context, st *sessionState, txHash common.Hash) {
	if !st.session.HasConfirmedTx() {
		st.session.ConfirmedTxID = txHash
	}
	s.markAttempt(ctx, st, domain.AttemptStatusConfirmed)

	s.logger.Info().
		Str("session_id", st.session.ID).
		Str("tx_hash", st.session.ConfirmedTxID.Hex()).
		Msg("Settlement confirmed")

	switch st.session.Kind {
	case domain.FlowCardCreation:
		s.setStage(st, domain.StageAwaitingDetails)
	case domain.FlowTopUp:
		s.setStage(st, domain.StageSubmitting)
		s.dispatchNotification(ctx, st)
	}
}

// dispatchNotification must be called with st.mu held and the session in the
// submitting stage with a confirmed transaction. The notified flag guards
// exactly-once dispatch.
func (s *Service) dispatchNotification(ctx context.Context, st *sessionState) {
	if !st.session.HasConfirmedTx() {
		s.fail(st, domain.ReasonNotificationFailed, "no confirmed settlement to notify about")
		return
	}
	if st.session.NotificationSent {
		s.completeAfterNotify(st)
		return
	}

	identity, err := s.identity.ForSubdomain(st.subdomain)
	if err != nil {
		s.fail(st, domain.ReasonNotificationFailed, fmt.Sprintf("identity lookup failed: %v", err))
		return
	}

	var ok bool
	switch st.session.Kind {
	case domain.FlowCardCreation:
		ok = s.notifier.NotifyCardCreation(ctx, domain.CardCreationNotice{
			Email:     identity.Email,
			FirstName: st.session.Details.FirstName,
			LastName:  st.session.Details.LastName,
			TxHash:    st.session.ConfirmedTxID.Hex(),
		})
	case domain.FlowTopUp:
		ok = s.notifier.NotifyTopUp(ctx, domain.TopUpNotice{
			Email:  identity.Email,
			Amount: token.FormatAmount(st.session.FeeAmount, s.tokenDecimals),
			TxHash: st.session.ConfirmedTxID.Hex(),
		})
	}

	if !ok {
		s.fail(st, domain.ReasonNotificationFailed, "provisioning notifier reported failure")
		return
	}

	st.session.NotificationSent = true
	s.completeAfterNotify(st)
}

// completeAfterNotify must be called with st.mu held. Card creation completes
// immediately; top-ups sit in the pending stage for a short courtesy delay
// (display only, the settlement is already confirmed).
func (s *Service) completeAfterNotify(st *sessionState) {
	if st.session.Kind == domain.FlowCardCreation {
		s.setStage(st, domain.StageComplete)
		return
	}

	s.setStage(st, domain.StagePending)
	st.pendingTimer = time.AfterFunc(s.pendingDelay, func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		st.pendingTimer = nil
		if st.session.Stage == domain.StagePending {
			s.setStage(st, domain.StageComplete)
		}
	})
}

// reconcileDangling probes the last known pending transaction for this wallet
// once before a fresh payment, so a confirmation that landed while the user
// was away is not lost. Must be called with st.mu held.
func (s *Service) reconcileDangling(ctx context.Context, st *sessionState) {
	attempt, err := s.attempts.LatestPendingByWallet(ctx, st.session.WalletAddress.Hex(), st.session.ChainID)
	if err != nil || attempt == nil {
		return
	}

	result, resolved, err := s.watcher.CheckOnce(ctx, common.HexToHash(attempt.TxHash))
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("tx_hash", attempt.TxHash).
			Msg("Failed to reconcile dangling transaction")
		return
	}

	status := domain.AttemptStatusAbandoned
	if resolved && result.Outcome == watcher.OutcomeConfirmed {
		status = domain.AttemptStatusConfirmed
	} else if resolved {
		status = domain.AttemptStatusFailed
	}

	if err := s.attempts.UpdateAttemptStatus(ctx, attempt.ID, status); err != nil {
		s.logger.Error().
			Err(err).
			Str("attempt_id", attempt.ID).
			Msg("Failed to update reconciled attempt")
		return
	}

	s.logger.Info().
		Str("attempt_id", attempt.ID).
		Str("tx_hash", attempt.TxHash).
		Str("status", string(status)).
		Msg("Reconciled dangling payment attempt")
}

func (s *Service) recordAttempt(ctx context.Context, st *sessionState, txHash common.Hash) string {
	metadata, _ := json.Marshal(map[string]string{
		"settlement_kind": string(st.session.SettlementKind),
		"subdomain":       st.subdomain,
	})

	attempt := &domain.PaymentAttempt{
		ID:            uuid.NewString(),
		SessionID:     st.session.ID,
		FlowKind:      st.session.Kind,
		WalletAddress: st.session.WalletAddress.Hex(),
		ChainID:       st.session.ChainID,
		TxHash:        txHash.Hex(),
		Amount:        st.session.FeeAmount.String(),
		Status:        domain.AttemptStatusPending,
		Metadata:      metadata,
	}

	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error().
			Err(err).
			Str("session_id", st.session.ID).
			Str("tx_hash", txHash.Hex()).
			Msg("Failed to record payment attempt")
	}

	return attempt.ID
}

func (s *Service) markAttempt(ctx context.Context, st *sessionState, status domain.AttemptStatus) {
	if st.attemptID == "" {
		return
	}
	if err := s.attempts.UpdateAttemptStatus(ctx, st.attemptID, status); err != nil {
		s.logger.Error().
			Err(err).
			Str("attempt_id", st.attemptID).
			Msg("Failed to update payment attempt")
	}
}

// setStage must be called with st.mu held. Entering any non-failed stage
// clears the displayed error.
func (s *Service) setStage(st *sessionState, stage domain.Stage) {
	st.session.Stage = stage
	st.session.UpdatedAt = time.Now().UTC()
	if stage != domain.StageFailed {
		st.session.LastError = nil
	}
	s.publish(st)
}

// fail must be called with st.mu held.
func (s *Service) fail(st *sessionState, reason domain.FailureReason, message string) {
	st.session.LastError = domain.NewFlowError(reason, message)
	st.session.Stage = domain.StageFailed
	st.session.UpdatedAt = time.Now().UTC()

	s.logger.Warn().
		Str("session_id", st.session.ID).
		Str("reason", string(reason)).
		Bool("funds_moved", st.session.LastError.FundsMoved).
		Str("message", message).
		Msg("Workflow session failed")

	s.publish(st)
}

func (s *Service) publish(st *sessionState) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishStage(domain.StageEvent{
		SessionID:  st.session.ID,
		Kind:       st.session.Kind,
		Stage:      st.session.Stage,
		Error:      st.session.LastError,
		OccurredAt: st.session.UpdatedAt,
	})
}

func retryableNotification(session *domain.WorkflowSession) bool {
	return session.Stage == domain.StageFailed &&
		session.LastError != nil &&
		session.LastError.Reason == domain.ReasonNotificationFailed &&
		session.HasConfirmedTx() &&
		!session.NotificationSent
}
