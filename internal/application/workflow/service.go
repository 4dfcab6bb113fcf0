package workflow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/settlement"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/watcher"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain/interfaces"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/token"
)

// Service owns every live workflow session and is the only code that mutates
// them. Sessions are not persisted; once a terminal stage is acknowledged the
// session is discarded and durable state lives in the provisioning backend.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	strategy  settlement.Strategy
	watcher   *watcher.Watcher
	notifier  interfaces.ProvisioningNotifier
	identity  interfaces.IdentityLookup
	attempts  interfaces.AttemptStore
	publisher interfaces.StagePublisher

	chainID       int64
	cardFee       *big.Int
	minTopUp      *big.Int
	tokenDecimals int
	pendingDelay  time.Duration

	logger zerolog.Logger
}

// sessionState pairs a session with the resources only the service may touch:
// its lock, the active watch cancellation and the top-up courtesy timer.
type sessionState struct {
	mu           sync.Mutex
	session      *domain.WorkflowSession
	subdomain    string
	attemptID    string
	cancelWatch  context.CancelFunc
	pendingTimer *time.Timer
}

func New(
	strategy settlement.Strategy,
	txWatcher *watcher.Watcher,
	notifier interfaces.ProvisioningNotifier,
	identity interfaces.IdentityLookup,
	attempts interfaces.AttemptStore,
	publisher interfaces.StagePublisher,
	settlementCfg config.SettlementConfig,
	ledgerCfg config.LedgerConfig,
	logger zerolog.Logger,
) (*Service, error) {
	cardFee, err := token.ParseAmount(settlementCfg.CardCreationFee, settlementCfg.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid card creation fee: %w", err)
	}
	minTopUp, err := token.ParseAmount(settlementCfg.MinTopUpAmount, settlementCfg.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum top-up amount: %w", err)
	}

	return &Service{
		sessions:      make(map[string]*sessionState),
		strategy:      strategy,
		watcher:       txWatcher,
		notifier:      notifier,
		identity:      identity,
		attempts:      attempts,
		publisher:     publisher,
		chainID:       ledgerCfg.ChainID,
		cardFee:       cardFee,
		minTopUp:      minTopUp,
		tokenDecimals: settlementCfg.TokenDecimals,
		pendingDelay:  time.Duration(settlementCfg.PendingDelay),
		logger:        logger,
	}, nil
}

// OpenCardSession starts a card-creation workflow for the given subdomain.
func (s *Service) OpenCardSession(ctx context.Context, subdomain string) (domain.WorkflowSession, error) {
	if _, err := s.identity.ForSubdomain(subdomain); err != nil {
		return domain.WorkflowSession{}, fmt.Errorf("unknown subdomain %q: %w", subdomain, err)
	}

	st := s.newSession(domain.FlowCardCreation, subdomain, new(big.Int).Set(s.cardFee))

	s.logger.Info().
		Str("session_id", st.session.ID).
		Str("subdomain", subdomain).
		Msg("Card creation session opened")

	return snapshot(st.session), nil
}

// OpenTopUpSession starts a top-up workflow. Amounts below the configured
// floor are rejected locally: the session lands in the failed stage with
// InvalidAmount and no ledger interaction ever happens.
func (s *Service) OpenTopUpSession(ctx context.Context, subdomain, amount string) (domain.WorkflowSession, error) {
	if _, err := s.identity.ForSubdomain(subdomain); err != nil {
		return domain.WorkflowSession{}, fmt.Errorf("unknown subdomain %q: %w", subdomain, err)
	}

	value, err := token.ParseAmount(amount, s.tokenDecimals)
	if err != nil {
		return domain.WorkflowSession{}, domain.NewFlowError(domain.ReasonInvalidAmount, fmt.Sprintf("invalid amount %q", amount))
	}

	st := s.newSession(domain.FlowTopUp, subdomain, value)

	if value.Cmp(s.minTopUp) < 0 {
		st.mu.Lock()
		s.fail(st, domain.ReasonInvalidAmount, fmt.Sprintf(
			"minimum top-up is %s, got %s",
			token.FormatAmount(s.minTopUp, s.tokenDecimals),
			token.FormatAmount(value, s.tokenDecimals),
		))
		st.mu.Unlock()
	} else {
		s.logger.Info().
			Str("session_id", st.session.ID).
			Str("amount", token.FormatAmount(value, s.tokenDecimals)).
			Msg("Top-up session opened")
	}

	return s.Get(ctx, st.session.ID)
}

// Get returns a point-in-time copy of the session.
func (s *Service) Get(ctx context.Context, sessionID string) (domain.WorkflowSession, error) {
	st, err := s.lookup(sessionID)
	if err != nil {
		return domain.WorkflowSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return snapshot(st.session), nil
}

// Abandon drops the session and cancels any active watch. An already
// broadcast transaction is never cancelled; its attempt record stays pending
// so a reopened session can reconcile it.
func (s *Service) Abandon(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s.stopBackground(st)

	s.logger.Info().
		Str("session_id", sessionID).
		Str("stage", string(st.session.Stage)).
		Bool("pending_tx", st.session.HasPendingTx()).
		Msg("Session abandoned")

	return nil
}

// Close cancels all outstanding watches; used on shutdown.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.sessions {
		st.mu.Lock()
		s.stopBackground(st)
		st.mu.Unlock()
	}
}

func (s *Service) newSession(kind domain.FlowKind, subdomain string, fee *big.Int) *sessionState {
	now := time.Now().UTC()
	st := &sessionState{
		session: &domain.WorkflowSession{
			ID:             uuid.NewString(),
			Kind:           kind,
			Stage:          domain.StageAwaitingConnection,
			ChainID:        s.chainID,
			FeeAmount:      fee,
			SettlementKind: s.strategy.Kind(),
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		subdomain: subdomain,
	}

	s.mu.Lock()
	s.sessions[st.session.ID] = st
	s.mu.Unlock()

	return st
}

func (s *Service) lookup(sessionID string) (*sessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	return st, nil
}

// stopBackground must be called with st.mu held.
func (s *Service) stopBackground(st *sessionState) {
	if st.cancelWatch != nil {
		st.cancelWatch()
		st.cancelWatch = nil
	}
	if st.pendingTimer != nil {
		st.pendingTimer.Stop()
		st.pendingTimer = nil
	}
}

func snapshot(session *domain.WorkflowSession) domain.WorkflowSession {
	copied := *session
	if session.FeeAmount != nil {
		copied.FeeAmount = new(big.Int).Set(session.FeeAmount)
	}
	if session.Details != nil {
		details := *session.Details
		copied.Details = &details
	}
	if session.LastError != nil {
		lastErr := *session.LastError
		copied.LastError = &lastErr
	}
	return copied
}
