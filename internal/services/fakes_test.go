package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeLedger is an in-memory ledger.Client
type fakeLedger struct {
	mu sync.Mutex

	balance      int64
	balanceErr   error
	balanceCalls int

	wallet        *models.Wallet
	walletErr     error
	walletCalls   int
	walletGate    chan struct{}
	walletEntered chan struct{}

	resolveResp  *ledger.ResolveCallbackResponse
	resolveErr   error
	resolveGate  chan struct{}
	resolveCalls []ledger.ResolveCallbackRequest

	pendingErrs  map[string]error
	pendingCalls []ledger.ResolvePendingRequest

	cancelResp  *ledger.CancelOrderResponse
	cancelErr   error
	cancelCalls []string

	initiateErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		wallet:      &models.Wallet{Transactions: []models.CoinTransaction{}},
		pendingErrs: make(map[string]error),
	}
}

func (f *fakeLedger) GetBalance(ctx context.Context, auth string) (*ledger.BalanceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &ledger.BalanceResponse{Balance: f.balance}, nil
}

func (f *fakeLedger) GetWallet(ctx context.Context, auth string) (*models.Wallet, error) {
	f.mu.Lock()
	f.walletCalls++
	gate, entered := f.walletGate, f.walletEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.walletErr != nil {
		return nil, f.walletErr
	}
	wallet := *f.wallet
	wallet.Transactions = append([]models.CoinTransaction(nil), f.wallet.Transactions...)
	return &wallet, nil
}

func (f *fakeLedger) ResolveCallback(ctx context.Context, auth string, req ledger.ResolveCallbackRequest) (*ledger.ResolveCallbackResponse, error) {
	f.mu.Lock()
	f.resolveCalls = append(f.resolveCalls, req)
	gate, resp, err := f.resolveGate, f.resolveResp, f.resolveErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &ledger.ResolveCallbackResponse{Success: req.Params["vnp_ResponseCode"] == "00"}, nil
	}
	out := *resp
	return &out, nil
}

func (f *fakeLedger) ResolvePendingTransaction(ctx context.Context, auth string, req ledger.ResolvePendingRequest) (*ledger.ResolvePendingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCalls = append(f.pendingCalls, req)
	if err := f.pendingErrs[req.TransactionID]; err != nil {
		return nil, err
	}
	return &ledger.ResolvePendingResponse{Success: true, Status: "processing"}, nil
}

func (f *fakeLedger) CancelOrder(ctx context.Context, auth string, orderID string) (*ledger.CancelOrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, orderID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	if f.cancelResp == nil {
		return &ledger.CancelOrderResponse{Success: true}, nil
	}
	return f.cancelResp, nil
}

func (f *fakeLedger) InitiateTopUp(ctx context.Context, auth string, amount int64) (*ledger.InitiatePaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &ledger.InitiatePaymentResponse{
		PaymentURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=TOPUP-1",
		TransactionRef: "TOPUP-1",
	}, nil
}

func (f *fakeLedger) InitiateOrderPayment(ctx context.Context, auth string, orderID string) (*ledger.InitiatePaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &ledger.InitiatePaymentResponse{
		PaymentURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=" + orderID,
		TransactionRef: orderID,
	}, nil
}

func (f *fakeLedger) setBalance(balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = balance
}

func (f *fakeLedger) setWallet(wallet *models.Wallet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallet = wallet
}

func (f *fakeLedger) resolveCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolveCalls)
}

func (f *fakeLedger) pendingCallIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.pendingCalls))
	for _, c := range f.pendingCalls {
		ids = append(ids, c.TransactionID)
	}
	return ids
}

func (f *fakeLedger) counts() (balance, wallet int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls, f.walletCalls
}

var errTransport = errors.New("dial tcp: connection refused")

// fakeScheduler keeps timers until the test fires them
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{s: s, delay: d, fn: fn}
	s.timers = append(s.timers, timer)
	return timer
}

// pending counts timers neither fired nor stopped
func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fireAll runs every pending timer on the loop and returns how many ran
func (s *fakeScheduler) fireAll(t *testing.T, loop *EventLoop) int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, timer := range s.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			due = append(due, timer)
		}
	}
	s.mu.Unlock()

	for _, timer := range due {
		require.NoError(t, loop.Call(context.Background(), timer.fn))
	}
	return len(due)
}

// fakeSweeper records sweep triggers and refresh requests
type fakeSweeper struct {
	mu        sync.Mutex
	users     []string
	refreshes []string
}

func (s *fakeSweeper) RequestRefresh(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes = append(s.refreshes, userID)
}

func (s *fakeSweeper) refreshed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.refreshes...)
}

func (s *fakeSweeper) Trigger(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
}

func (s *fakeSweeper) triggered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

// recordingAuditor keeps every audit row
type recordingAuditor struct {
	mu     sync.Mutex
	audits []*models.PaymentAudit
}

func (a *recordingAuditor) Record(audit *models.PaymentAudit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audits = append(a.audits, audit)
}

func (a *recordingAuditor) count(eventType models.PaymentEventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, audit := range a.audits {
		if audit.EventType == eventType {
			n++
		}
	}
	return n
}

// recordingObserver keeps resolved snapshots and confirmed balances
type recordingObserver struct {
	mu        sync.Mutex
	resolved  []models.SessionSnapshot
	confirmed []int64
}

func (o *recordingObserver) SessionResolved(snapshot models.SessionSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolved = append(o.resolved, snapshot)
}

func (o *recordingObserver) BalanceConfirmed(userID string, balance int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.confirmed = append(o.confirmed, balance)
}

func (o *recordingObserver) resolvedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.resolved)
}

func startLoop(t *testing.T) *EventLoop {
	loop := NewEventLoop(quietLogger())
	loop.Start()
	t.Cleanup(loop.Stop)
	return loop
}

// hydrate sets the user's authoritative balance as if a read had landed
func hydrate(t *testing.T, loop *EventLoop, views *LedgerViews, userID string, balance int64) {
	require.NoError(t, loop.Call(context.Background(), func() {
		view := views.For(userID)
		view.ReplaceWith(view.BeginRead(), balance)
	}))
}

func displayedBalance(t *testing.T, loop *EventLoop, views *LedgerViews, userID string) int64 {
	var balance int64
	require.NoError(t, loop.Call(context.Background(), func() {
		balance = views.For(userID).Balance()
	}))
	return balance
}

func eventually(t *testing.T, condition func() bool, msg string) {
	assert.Eventually(t, condition, 2*time.Second, 5*time.Millisecond, msg)
}
