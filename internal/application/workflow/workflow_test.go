package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/watcher"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

const (
	testWallet = "0xD1B77E5BE43d705549E38a23b59CF5365f17E227"
	testChain  = int64(1)
)

// fakeStrategy scripts settlement submissions.
type fakeStrategy struct {
	mu       sync.Mutex
	kind     domain.SettlementKind
	txHash   common.Hash
	err      error
	submits  int
	lastFrom common.Address
}

func (f *fakeStrategy) Kind() domain.SettlementKind { return f.kind }

func (f *fakeStrategy) Submit(ctx context.Context, session *domain.WorkflowSession) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastFrom = session.WalletAddress
	if f.err != nil {
		return common.Hash{}, f.err
	}
	return f.txHash, nil
}

func (f *fakeStrategy) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

// fakeReceipts serves receipts per transaction hash; unset hashes stay pending.
type fakeReceipts struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
}

func newFakeReceipts() *fakeReceipts {
	return &fakeReceipts{receipts: make(map[common.Hash]*types.Receipt)}
}

func (f *fakeReceipts) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeReceipts) confirm(txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
	}
}

func (f *fakeReceipts) revert(txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(100),
	}
}

// fakeNotifier scripts notification outcomes and records every dispatch.
type fakeNotifier struct {
	mu          sync.Mutex
	results     []bool
	cardNotices []domain.CardCreationNotice
	topUps      []domain.TopUpNotice
}

func (f *fakeNotifier) next() bool {
	if len(f.results) == 0 {
		return true
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakeNotifier) NotifyCardCreation(ctx context.Context, notice domain.CardCreationNotice) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cardNotices = append(f.cardNotices, notice)
	return f.next()
}

func (f *fakeNotifier) NotifyTopUp(ctx context.Context, notice domain.TopUpNotice) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topUps = append(f.topUps, notice)
	return f.next()
}

func (f *fakeNotifier) cardCalls() []domain.CardCreationNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CardCreationNotice(nil), f.cardNotices...)
}

func (f *fakeNotifier) topUpCalls() []domain.TopUpNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TopUpNotice(nil), f.topUps...)
}

// fakeIdentity resolves every subdomain to a fixed email.
type fakeIdentity struct{}

func (fakeIdentity) ForSubdomain(subdomain string) (domain.Identity, error) {
	return domain.Identity{Email: "demo@pepuns.xyz"}, nil
}

// fakeAttempts is an in-memory attempt store.
type fakeAttempts struct {
	mu       sync.Mutex
	attempts map[string]*domain.PaymentAttempt
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{attempts: make(map[string]*domain.PaymentAttempt)}
}

func (f *fakeAttempts) RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *attempt
	copied.CreatedAt = time.Now()
	f.attempts[attempt.ID] = &copied
	return nil
}

func (f *fakeAttempts) UpdateAttemptStatus(ctx context.Context, attemptID string, status domain.AttemptStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attempt %s not found", attemptID)
	}
	attempt.Status = status
	return nil
}

func (f *fakeAttempts) LatestPendingByWallet(ctx context.Context, walletAddress string, chainID int64) (*domain.PaymentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.PaymentAttempt
	for _, attempt := range f.attempts {
		if attempt.WalletAddress != walletAddress || attempt.ChainID != chainID {
			continue
		}
		if attempt.Status != domain.AttemptStatusPending {
			continue
		}
		if latest == nil || attempt.CreatedAt.After(latest.CreatedAt) {
			latest = attempt
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

type noopPublisher struct{}

func (noopPublisher) PublishStage(domain.StageEvent) {}

type testEnv struct {
	svc      *Service
	strategy *fakeStrategy
	receipts *fakeReceipts
	notifier *fakeNotifier
	attempts *fakeAttempts
}

func newTestEnv(t *testing.T, kind domain.SettlementKind) *testEnv {
	t.Helper()

	strategy := &fakeStrategy{
		kind:   kind,
		txHash: common.HexToHash("0xabc123"),
	}
	receipts := newFakeReceipts()
	fn := &fakeNotifier{}
	attempts := newFakeAttempts()

	ledgerCfg := config.LedgerConfig{
		ChainID:      testChain,
		PollInterval: config.Duration(2 * time.Millisecond),
		WatchCeiling: config.Duration(150 * time.Millisecond),
	}
	settlementCfg := config.SettlementConfig{
		Kind:            string(kind),
		TokenDecimals:   18,
		CardCreationFee: "15000",
		MinTopUpAmount:  "15",
		PendingDelay:    config.Duration(5 * time.Millisecond),
	}

	txWatcher := watcher.New(receipts, ledgerCfg, zerolog.Nop())

	svc, err := New(
		strategy,
		txWatcher,
		fn,
		fakeIdentity{},
		attempts,
		noopPublisher{},
		settlementCfg,
		ledgerCfg,
		zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(svc.Close)

	return &testEnv{
		svc:      svc,
		strategy: strategy,
		receipts: receipts,
		notifier: fn,
		attempts: attempts,
	}
}

func (e *testEnv) waitForStage(t *testing.T, sessionID string, stage domain.Stage) domain.WorkflowSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session, err := e.svc.Get(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if session.Stage == stage {
			return session
		}
		time.Sleep(2 * time.Millisecond)
	}
	session, _ := e.svc.Get(context.Background(), sessionID)
	t.Fatalf("session never reached stage %s, stuck at %s (lastError=%v)", stage, session.Stage, session.LastError)
	return domain.WorkflowSession{}
}

func (e *testEnv) openConnectedCardSession(t *testing.T) domain.WorkflowSession {
	t.Helper()
	ctx := context.Background()

	session, err := e.svc.OpenCardSession(ctx, "demo")
	if err != nil {
		t.Fatalf("OpenCardSession: %v", err)
	}
	session, err = e.svc.ConnectWallet(ctx, session.ID, testWallet, testChain)
	if err != nil {
		t.Fatalf("ConnectWallet: %v", err)
	}
	if session.Stage != domain.StageAwaitingPayment {
		t.Fatalf("expected awaiting_payment after connect, got %s", session.Stage)
	}
	return session
}

func TestCardCreationHappyPath(t *testing.T) {
	env := newTestEnv(t, domain.SettlementAllowanceApproval)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)

	session, err := env.svc.ConfirmPayment(ctx, session.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if session.Stage != domain.StageSettling {
		t.Fatalf("expected settling, got %s", session.Stage)
	}
	if !session.HasPendingTx() {
		t.Fatal("expected pending tx after submission")
	}

	env.receipts.confirm(env.strategy.txHash)
	session = env.waitForStage(t, session.ID, domain.StageAwaitingDetails)

	if !session.HasConfirmedTx() {
		t.Fatal("confirmed tx id not set after confirmation")
	}
	if session.HasPendingTx() {
		t.Fatal("pending tx id not cleared after confirmation")
	}

	session, err = env.svc.SubmitDetails(ctx, session.ID, "Jane", "Doe")
	if err != nil {
		t.Fatalf("SubmitDetails: %v", err)
	}
	if session.Stage != domain.StageComplete {
		t.Fatalf("expected complete, got %s", session.Stage)
	}
	if !session.NotificationSent {
		t.Fatal("notification_sent flag not set")
	}

	calls := env.notifier.cardCalls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(calls))
	}
	if calls[0].FirstName != "Jane" || calls[0].LastName != "Doe" {
		t.Fatalf("unexpected notice: %+v", calls[0])
	}
	if calls[0].TxHash != session.ConfirmedTxID.Hex() {
		t.Fatal("notification carried wrong proof-of-payment")
	}
}

func TestWalletDeclinedFailsWithoutConfirmedTx(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)
	env.strategy.err = fmt.Errorf("bridge: %w", domain.ErrUserDeclined)

	session, err := env.svc.ConfirmPayment(ctx, session.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if session.Stage != domain.StageFailed {
		t.Fatalf("expected failed, got %s", session.Stage)
	}
	if session.LastError == nil || session.LastError.Reason != domain.ReasonWalletDeclined {
		t.Fatalf("expected wallet_declined, got %+v", session.LastError)
	}
	if session.LastError.FundsMoved {
		t.Fatal("declined payment must report no funds moved")
	}
	if session.HasConfirmedTx() {
		t.Fatal("confirmed tx must remain unset after decline")
	}

	// Restart must require a fresh payment.
	env.strategy.err = nil
	session, err = env.svc.Restart(ctx, session.ID)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if session.Stage != domain.StageAwaitingPayment {
		t.Fatalf("expected awaiting_payment after restart, got %s", session.Stage)
	}
}

func TestNotifierFailureRetriesWithoutRepaying(t *testing.T) {
	env := newTestEnv(t, domain.SettlementAllowanceApproval)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)
	env.notifier.results = []bool{false, true}

	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	env.receipts.confirm(env.strategy.txHash)
	env.waitForStage(t, session.ID, domain.StageAwaitingDetails)

	session, err := env.svc.SubmitDetails(ctx, session.ID, "Jane", "Doe")
	if err != nil {
		t.Fatalf("SubmitDetails: %v", err)
	}
	if session.Stage != domain.StageFailed {
		t.Fatalf("expected failed after notifier refusal, got %s", session.Stage)
	}
	if session.LastError.Reason != domain.ReasonNotificationFailed {
		t.Fatalf("expected notification_failed, got %s", session.LastError.Reason)
	}
	if !session.LastError.FundsMoved {
		t.Fatal("notification failure must report funds moved")
	}

	confirmedBefore := session.ConfirmedTxID
	submitsBefore := env.strategy.submitCount()

	session, err = env.svc.RetryNotification(ctx, session.ID)
	if err != nil {
		t.Fatalf("RetryNotification: %v", err)
	}
	if session.Stage != domain.StageComplete {
		t.Fatalf("expected complete after retry, got %s", session.Stage)
	}
	if session.ConfirmedTxID != confirmedBefore {
		t.Fatal("confirmed tx id changed across retry")
	}
	if env.strategy.submitCount() != submitsBefore {
		t.Fatal("retry must not invoke the settlement strategy again")
	}

	calls := env.notifier.cardCalls()
	if len(calls) != 2 {
		t.Fatalf("expected two notifier calls, got %d", len(calls))
	}
	if calls[0].TxHash != calls[1].TxHash {
		t.Fatal("retry dispatched a different confirmed tx id")
	}
}

func TestNotificationSentAtMostOnce(t *testing.T) {
	env := newTestEnv(t, domain.SettlementAllowanceApproval)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)

	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	env.receipts.confirm(env.strategy.txHash)
	env.waitForStage(t, session.ID, domain.StageAwaitingDetails)

	if _, err := env.svc.SubmitDetails(ctx, session.ID, "Jane", "Doe"); err != nil {
		t.Fatalf("SubmitDetails: %v", err)
	}

	// A second retry attempt must be rejected outright once sent.
	if _, err := env.svc.RetryNotification(ctx, session.ID); err == nil {
		t.Fatal("expected retry to be rejected after successful notification")
	}
	if calls := env.notifier.cardCalls(); len(calls) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(calls))
	}
}

func TestOnChainRevertFails(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)

	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	env.receipts.revert(env.strategy.txHash)

	session = env.waitForStage(t, session.ID, domain.StageFailed)
	if session.LastError.Reason != domain.ReasonOnChainReverted {
		t.Fatalf("expected onchain_reverted, got %s", session.LastError.Reason)
	}
	if session.HasConfirmedTx() {
		t.Fatal("reverted settlement must not set confirmed tx")
	}
	if session.HasPendingTx() {
		t.Fatal("pending tx must be cleared after terminal failure")
	}
}

func TestWatcherTimeoutFails(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)

	// Never publish a receipt: the watch ceiling should trip.
	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	session = env.waitForStage(t, session.ID, domain.StageFailed)
	if session.LastError.Reason != domain.ReasonWatcherTimeout {
		t.Fatalf("expected watcher_timeout, got %s", session.LastError.Reason)
	}
	if session.HasPendingTx() {
		t.Fatal("pending tx must be cleared on timeout")
	}
	if session.HasConfirmedTx() {
		t.Fatal("confirmed tx must remain unset on timeout")
	}
	if !session.LastError.FundsMoved {
		t.Fatal("timeout must warn that the payment may still confirm")
	}
}

func TestPaymentRequiresConnection(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	session, err := env.svc.OpenCardSession(ctx, "demo")
	if err != nil {
		t.Fatalf("OpenCardSession: %v", err)
	}

	_, err = env.svc.ConfirmPayment(ctx, session.ID)
	var flowErr *domain.FlowError
	if !errors.As(err, &flowErr) || flowErr.Reason != domain.ReasonConnectionRequired {
		t.Fatalf("expected connection_required, got %v", err)
	}
	if env.strategy.submitCount() != 0 {
		t.Fatal("settlement must not run without a connected wallet")
	}

	// Local validation errors do not move the state machine.
	session, _ = env.svc.Get(ctx, session.ID)
	if session.Stage != domain.StageAwaitingConnection {
		t.Fatalf("stage moved on local validation error: %s", session.Stage)
	}
}

func TestNoConcurrentPayments(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)
	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err == nil {
		t.Fatal("expected second payment to be rejected while one is in flight")
	}
	if env.strategy.submitCount() != 1 {
		t.Fatalf("expected one submission, got %d", env.strategy.submitCount())
	}
}

func TestAbandonCancelsWatch(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)
	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	if err := env.svc.Abandon(ctx, session.ID); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := env.svc.Get(ctx, session.ID); err == nil {
		t.Fatal("abandoned session still reachable")
	}

	// The attempt record must survive for later reconciliation.
	attempt, err := env.attempts.LatestPendingByWallet(ctx, common.HexToAddress(testWallet).Hex(), testChain)
	if err != nil || attempt == nil {
		t.Fatalf("expected a pending attempt record, got %v (%v)", attempt, err)
	}
}

func TestTimedOutAttemptStaysReconcilable(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	session := env.openConnectedCardSession(t)
	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	env.waitForStage(t, session.ID, domain.StageFailed)

	// A timed-out transaction may still confirm out-of-band, so its attempt
	// record must survive in a reconcilable state.
	attempt, err := env.attempts.LatestPendingByWallet(ctx, common.HexToAddress(testWallet).Hex(), testChain)
	if err != nil || attempt == nil {
		t.Fatalf("expected the timed-out attempt to stay pending, got %v (%v)", attempt, err)
	}
	firstTx := attempt.TxHash

	// The old transaction confirms late; the next payment's probe settles it.
	env.receipts.confirm(env.strategy.txHash)
	env.strategy.txHash = common.HexToHash("0xdef456")

	if _, err := env.svc.Restart(ctx, session.ID); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if _, err := env.svc.ConfirmPayment(ctx, session.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	attempt, err = env.attempts.LatestPendingByWallet(ctx, common.HexToAddress(testWallet).Hex(), testChain)
	if err != nil {
		t.Fatalf("LatestPendingByWallet: %v", err)
	}
	if attempt == nil {
		t.Fatal("expected the new attempt to be pending")
	}
	if attempt.TxHash == firstTx {
		t.Fatal("timed-out attempt was not reconciled before the fresh payment")
	}
}

func TestReconcileDanglingAttemptOnNextPayment(t *testing.T) {
	env := newTestEnv(t, domain.SettlementDirectTransfer)
	ctx := context.Background()

	// First session pays, then the user walks away before confirmation.
	first := env.openConnectedCardSession(t)
	if _, err := env.svc.ConfirmPayment(ctx, first.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if err := env.svc.Abandon(ctx, first.ID); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	// The old transaction confirms out-of-band.
	env.receipts.confirm(env.strategy.txHash)

	// A fresh session for the same wallet reconciles before paying.
	env.strategy.txHash = common.HexToHash("0xdef456")
	second := env.openConnectedCardSession(t)
	if _, err := env.svc.ConfirmPayment(ctx, second.ID); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	attempt, err := env.attempts.LatestPendingByWallet(ctx, common.HexToAddress(testWallet).Hex(), testChain)
	if err != nil {
		t.Fatalf("LatestPendingByWallet: %v", err)
	}
	if attempt == nil {
		t.Fatal("expected the new attempt to be pending")
	}
	if attempt.SessionID != second.ID {
		t.Fatalf("dangling attempt was not reconciled; still pending for session %s", attempt.SessionID)
	}
}
