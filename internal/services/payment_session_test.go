package services

import (
	"context"
	"testing"

	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/bookverse/payment-bridge/pkg/vnpay"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser    = "user-42"
	testToken   = "token-42"
	testBaseURL = "https://api.bookverse.vn/api"
	gatewayPage = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=TOPUP-1"
)

type sessionHarness struct {
	loop        *EventLoop
	scheduler   *fakeScheduler
	ledger      *fakeLedger
	views       *LedgerViews
	credentials *TokenStore
	sweeper     *fakeSweeper
	auditor     *recordingAuditor
	observer    *recordingObserver
	manager     *PaymentSessionManager
	interceptor *BrowserInterceptor
}

func setupSessionTest(t *testing.T) *sessionHarness {
	h := &sessionHarness{
		loop:        startLoop(t),
		scheduler:   &fakeScheduler{},
		ledger:      newFakeLedger(),
		views:       NewLedgerViews(),
		credentials: NewTokenStore(),
		sweeper:     &fakeSweeper{},
		auditor:     &recordingAuditor{},
		observer:    &recordingObserver{},
	}
	h.credentials.Put(testUser, testToken)

	h.manager = NewPaymentSessionManager(PaymentSessionConfig{
		Gateway:        "vnpay",
		LedgerBaseURL:  testBaseURL,
		TopUpPath:      "coins/vnpay-return",
		OrderPath:      "orders/vnpay-return",
		MinTopUpAmount: 10000,
		Policy:         ReconcilePolicy{},
		Credits:        DefaultCreditSchedule(),
	}, SessionDeps{
		Loop:        h.loop,
		Scheduler:   h.scheduler,
		Ledger:      h.ledger,
		Views:       h.views,
		Credentials: h.credentials,
		Sweeper:     h.sweeper,
		Auditor:     h.auditor,
		Observer:    h.observer,
		Logger:      quietLogger(),
	})
	h.interceptor = NewBrowserInterceptor(vnpay.NewReturnMatcher("vnpay"), h.manager, quietLogger())
	return h
}

func (h *sessionHarness) startTopUp(t *testing.T, amount int64) uuid.UUID {
	snap, err := h.manager.StartTopUp(context.Background(), testUser, testToken, amount, ClientMeta{})
	require.NoError(t, err)
	return snap.ID
}

func (h *sessionHarness) navigate(t *testing.T, id uuid.UUID, hook NavigationHook, rawURL string) NavigationDecision {
	decision, err := h.interceptor.OnNavigation(context.Background(), testUser, id, hook, rawURL)
	require.NoError(t, err)
	return decision
}

func (h *sessionHarness) snapshot(t *testing.T, id uuid.UUID) *models.SessionSnapshot {
	snap, err := h.manager.Snapshot(context.Background(), id)
	require.NoError(t, err)
	return snap
}

func (h *sessionHarness) waitResolved(t *testing.T, id uuid.UUID) *models.SessionSnapshot {
	eventually(t, func() bool {
		return h.snapshot(t, id).IsResolved()
	}, "session should resolve")
	return h.snapshot(t, id)
}

func (h *sessionHarness) balance(t *testing.T) int64 {
	return displayedBalance(t, h.loop, h.views, testUser)
}

func topUpReturn(code, ref string) string {
	return testBaseURL + "/coins/vnpay-return?vnp_Amount=100000000&vnp_ResponseCode=" + code + "&vnp_TxnRef=" + ref + "&vnp_TransactionNo=14012345"
}

func orderReturn(code, ref string) string {
	return testBaseURL + "/orders/vnpay-return?vnp_ResponseCode=" + code + "&vnp_TxnRef=" + ref
}

func TestTopUpSuccess_OptimisticCreditThenAuthoritativeRead(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 5000)

	id := h.startTopUp(t, 1000000)
	assert.Equal(t, models.SessionStateInitiated, h.snapshot(t, id).State)

	decision := h.navigate(t, id, NavigationStarted, gatewayPage)
	assert.Equal(t, NavigationAllow, decision.Action)
	assert.Equal(t, models.SessionStateAwaitingGatewayReturn, h.snapshot(t, id).State)

	decision = h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-1"))
	assert.Equal(t, NavigationBlock, decision.Action)
	assert.Equal(t, vnpay.ReturnTopUp, decision.ReturnKind)

	snap := h.waitResolved(t, id)
	require.NotNil(t, snap.Outcome)
	assert.True(t, snap.Outcome.Success)
	assert.False(t, snap.Outcome.Degraded)
	assert.Equal(t, int64(1150), snap.ExpectedCredit)
	assert.Equal(t, int64(6150), h.balance(t), "optimistic balance is pre-balance plus expected credit")

	// Forwarded with every original parameter
	require.Equal(t, 1, h.ledger.resolveCallCount())
	assert.Equal(t, "TOPUP-1", h.ledger.resolveCalls[0].Params["vnp_TxnRef"])
	assert.Equal(t, models.SessionKindTopUp, h.ledger.resolveCalls[0].Kind)

	// Backend disagrees with the prediction; its number wins
	h.ledger.setBalance(6200)
	assert.Equal(t, 1, h.scheduler.fireAll(t, h.loop))
	eventually(t, func() bool { return h.balance(t) == 6200 }, "balance should equal the backend read")

	assert.Equal(t, 1, h.auditor.count(models.PaymentEventBalanceConfirmed))
	assert.Equal(t, 1, h.auditor.count(models.PaymentEventOptimisticCredit))
}

func TestTopUpFailure_InsufficientBalanceLeavesViewUnchanged(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 5000)

	id := h.startTopUp(t, 50000)
	h.navigate(t, id, NavigationStarted, gatewayPage)
	h.navigate(t, id, NavigationFinished, topUpReturn("51", "TOPUP-51"))

	snap := h.waitResolved(t, id)
	require.NotNil(t, snap.Outcome)
	assert.False(t, snap.Outcome.Success)
	assert.Equal(t, string(vnpay.ReasonInsufficientFunds), snap.Outcome.Reason)
	assert.Contains(t, snap.Outcome.Message, "Insufficient balance")
	assert.Equal(t, int64(0), snap.ExpectedCredit)

	assert.Equal(t, int64(5000), h.balance(t))
	assert.Equal(t, 0, h.scheduler.pending(), "failure schedules no balance read")
	assert.Empty(t, h.sweeper.triggered())
}

func TestNonSuccessCodes_NeverMutateView(t *testing.T) {
	codes := []string{"07", "09", "10", "11", "12", "13", "24", "51", "65", "75", "79", "99", "42"}

	for _, code := range codes {
		t.Run(code, func(t *testing.T) {
			h := setupSessionTest(t)
			hydrate(t, h.loop, h.views, testUser, 777)

			id := h.startTopUp(t, 2000000)
			h.navigate(t, id, NavigationStarted, topUpReturn(code, "TOPUP-"+code))

			snap := h.waitResolved(t, id)
			assert.False(t, snap.Outcome.Success)
			assert.NotEmpty(t, snap.Outcome.Reason)
			assert.Equal(t, int64(777), h.balance(t))
		})
	}
}

func TestOrderPayment_CancelledCodeResolvesFailureWithoutCancellation(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 300)

	snap, err := h.manager.StartOrderPayment(context.Background(), testUser, testToken, "ORD-7", 150000, ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/orders/vnpay-return", snap.ReturnURLPrefix)

	decision := h.navigate(t, snap.ID, NavigationStarted, orderReturn("24", "ORD-7"))
	assert.Equal(t, vnpay.ReturnOrder, decision.ReturnKind)

	resolved := h.waitResolved(t, snap.ID)
	assert.False(t, resolved.Outcome.Success)
	assert.Equal(t, string(vnpay.ReasonUserCancelled), resolved.Outcome.Reason)
	assert.Empty(t, resolved.Outcome.OpenOrderID)

	assert.Empty(t, h.ledger.cancelCalls, "no cancellation happened")
	assert.Equal(t, int64(300), h.balance(t))
	assert.Equal(t, models.SessionKindOrder, h.ledger.resolveCalls[0].Kind)
}

func TestOrderPayment_SuccessOpensOrderWithoutCredit(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 300)

	snap, err := h.manager.StartOrderPayment(context.Background(), testUser, testToken, "ORD-8", 90000, ClientMeta{})
	require.NoError(t, err)

	h.navigate(t, snap.ID, NavigationStarted, orderReturn("00", "ORD-8"))

	resolved := h.waitResolved(t, snap.ID)
	assert.True(t, resolved.Outcome.Success)
	assert.Equal(t, "ORD-8", resolved.Outcome.OpenOrderID)
	assert.Equal(t, int64(300), h.balance(t))
	assert.Equal(t, 0, h.scheduler.pending())
	assert.Equal(t, 1, h.observer.resolvedCount())
}

func TestDuplicateReturn_OneTransitionOneCredit(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 0)

	id := h.startTopUp(t, 1000000)
	h.navigate(t, id, NavigationStarted, gatewayPage)

	returnURL := topUpReturn("00", "TOPUP-DUP")
	h.navigate(t, id, NavigationStarted, returnURL)
	h.navigate(t, id, NavigationFinished, returnURL)

	h.waitResolved(t, id)
	h.navigate(t, id, NavigationFinished, returnURL)

	assert.Equal(t, 1, h.ledger.resolveCallCount())
	assert.Equal(t, int64(1150), h.balance(t))
	assert.Equal(t, 1, h.auditor.count(models.PaymentEventReturnReceived))
	assert.Equal(t, 2, h.auditor.count(models.PaymentEventReturnDuplicate))
	assert.Equal(t, 1, h.observer.resolvedCount())
}

func TestReturnWhileInitiated_IsAccepted(t *testing.T) {
	h := setupSessionTest(t)

	id := h.startTopUp(t, 200000)
	h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-FAST"))

	snap := h.waitResolved(t, id)
	assert.True(t, snap.Outcome.Success)
	assert.Equal(t, int64(210), h.balance(t))
}

func TestNoCredential_ResolvesFromCodeAlone(t *testing.T) {
	h := setupSessionTest(t)
	id := h.startTopUp(t, 500000)
	h.credentials.Forget(testUser)

	h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-DEG"))

	snap := h.waitResolved(t, id)
	assert.True(t, snap.Outcome.Success)
	assert.True(t, snap.Outcome.Degraded)
	assert.Equal(t, 0, h.ledger.resolveCallCount())
	assert.Equal(t, int64(550), h.balance(t))

	// The confirmation read needs a credential too
	h.scheduler.fireAll(t, h.loop)
	balanceCalls, _ := h.ledger.counts()
	assert.Equal(t, 0, balanceCalls)
}

func TestTransportFailure_FallsBackToResponseCode(t *testing.T) {
	h := setupSessionTest(t)
	h.ledger.resolveErr = errTransport

	id := h.startTopUp(t, 1000000)
	h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-NET"))

	snap := h.waitResolved(t, id)
	assert.True(t, snap.Outcome.Success)
	assert.True(t, snap.Outcome.Degraded)
	assert.Equal(t, int64(1150), h.balance(t))
	assert.Equal(t, 1, h.auditor.count(models.PaymentEventCallbackFailed))
}

func TestAmbiguousReturn_FailsAndTriggersSweep(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 40)

	id := h.startTopUp(t, 1000000)
	h.navigate(t, id, NavigationStarted, testBaseURL+"/coins/vnpay-return?vnp_TxnRef=TOPUP-AMB")

	snap := h.waitResolved(t, id)
	assert.False(t, snap.Outcome.Success)
	assert.Equal(t, string(vnpay.ReasonAmbiguousReturn), snap.Outcome.Reason)
	assert.Equal(t, int64(40), h.balance(t))
	assert.Equal(t, []string{testUser}, h.sweeper.triggered())
}

func TestDismissBeforeReturn_ResolvesUserCancelled(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 10)

	id := h.startTopUp(t, 100000)
	h.navigate(t, id, NavigationStarted, gatewayPage)

	snap, err := h.manager.Dismiss(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, snap.Closed)
	require.NotNil(t, snap.Outcome)
	assert.Equal(t, string(vnpay.ReasonUserCancelled), snap.Outcome.Reason)
	assert.Equal(t, int64(10), h.balance(t))
	assert.Equal(t, 1, h.auditor.count(models.PaymentEventCancelled))

	_, err = h.manager.Snapshot(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDismissAfterSuccess_HandsConfirmationReadToReconciler(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 0)

	id := h.startTopUp(t, 1000000)
	h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-CLOSE"))
	h.waitResolved(t, id)
	require.Equal(t, 1, h.scheduler.pending())

	_, err := h.manager.Dismiss(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 0, h.scheduler.pending(), "dismiss stops the confirmation timer")
	assert.Equal(t, 0, h.scheduler.fireAll(t, h.loop))
	balanceCalls, _ := h.ledger.counts()
	assert.Equal(t, 0, balanceCalls, "the closed session makes no read of its own")
	assert.Equal(t, []string{testUser}, h.sweeper.refreshed())
	assert.Empty(t, h.sweeper.triggered())
}

func TestDismissAfterConfirmation_RequestsNoRefresh(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 0)
	h.ledger.setBalance(1150)

	id := h.startTopUp(t, 1000000)
	h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-DONE"))
	h.waitResolved(t, id)
	require.Equal(t, 1, h.scheduler.fireAll(t, h.loop))
	eventually(t, func() bool {
		return h.auditor.count(models.PaymentEventBalanceConfirmed) == 1
	}, "confirmation read should land")

	_, err := h.manager.Dismiss(context.Background(), id)
	require.NoError(t, err)

	assert.Empty(t, h.sweeper.refreshed())
}

func TestDismissFailedTopUp_RequestsNoRefresh(t *testing.T) {
	h := setupSessionTest(t)

	id := h.startTopUp(t, 50000)
	h.navigate(t, id, NavigationStarted, topUpReturn("51", "TOPUP-NSF"))
	h.waitResolved(t, id)

	_, err := h.manager.Dismiss(context.Background(), id)
	require.NoError(t, err)

	assert.Empty(t, h.sweeper.refreshed())
}

func TestDismissWhileReconciling_DestroyedSessionNeverMutatesView(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 100)
	gate := make(chan struct{})
	h.ledger.resolveGate = gate

	id := h.startTopUp(t, 1000000)
	h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-GONE"))
	assert.Equal(t, models.SessionStateReconcilingWithBackend, h.snapshot(t, id).State)

	snap, err := h.manager.Dismiss(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, snap.Outcome)
	close(gate)

	// Let any late completion drain through the loop
	require.NoError(t, h.loop.Call(context.Background(), func() {}))
	assert.Equal(t, int64(100), h.balance(t))
	assert.Equal(t, 0, h.observer.resolvedCount())
	assert.Equal(t, []string{testUser}, h.sweeper.triggered())
}

func TestStaleConfirmationRead_DoesNotClobberLaterCredit(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 0)

	first := h.startTopUp(t, 1000000)
	h.navigate(t, first, NavigationStarted, topUpReturn("00", "TOPUP-A"))
	h.waitResolved(t, first)

	second := h.startTopUp(t, 200000)
	h.navigate(t, second, NavigationStarted, topUpReturn("00", "TOPUP-B"))
	h.waitResolved(t, second)
	assert.Equal(t, int64(1360), h.balance(t))

	// The backend only reflects the first top-up so far
	h.ledger.setBalance(1200)
	var firstTimer *fakeTimer
	h.scheduler.mu.Lock()
	firstTimer = h.scheduler.timers[0]
	firstTimer.fired = true
	h.scheduler.mu.Unlock()
	require.NoError(t, h.loop.Call(context.Background(), firstTimer.fn))

	eventually(t, func() bool { return h.balance(t) == 1200+210 }, "second credit survives the first read")
}

func TestStartTopUp_Validation(t *testing.T) {
	h := setupSessionTest(t)

	_, err := h.manager.StartTopUp(context.Background(), testUser, testToken, 5000, ClientMeta{})
	assert.ErrorIs(t, err, ErrInvalidPaymentRequest)

	_, err = h.manager.StartOrderPayment(context.Background(), testUser, testToken, " ", 0, ClientMeta{})
	assert.ErrorIs(t, err, ErrInvalidPaymentRequest)

	h.ledger.initiateErr = errTransport
	_, err = h.manager.StartTopUp(context.Background(), testUser, testToken, 100000, ClientMeta{})
	assert.ErrorIs(t, err, errTransport)

	count, err := h.manager.ActiveCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExpireStale(t *testing.T) {
	h := setupSessionTest(t)
	id := h.startTopUp(t, 100000)

	expired, err := h.manager.ExpireStale(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	_, err = h.manager.Snapshot(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
