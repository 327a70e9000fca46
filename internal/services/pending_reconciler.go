package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/metrics"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrNoCredential is returned when no bearer token is known for a wallet
var ErrNoCredential = errors.New("no credential for wallet owner")

// ReconcilePolicy holds the delays of reconciliation. Tests use zero delays.
type ReconcilePolicy struct {
	ConfirmDelay  time.Duration // top-up success to authoritative balance read
	MinPendingAge time.Duration // younger pending deposits are left to the backend
	RefreshDelay  time.Duration // resolve request to wallet re-read
	RetryAfter    time.Duration // a requested deposit still pending after this is asked again; 0 never
}

// DefaultReconcilePolicy returns the production delays
func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{
		ConfirmDelay:  2 * time.Second,
		MinPendingAge: 30 * time.Second,
		RefreshDelay:  1500 * time.Millisecond,
		RetryAfter:    10 * time.Minute,
	}
}

// SweepResult summarises one sweep of a wallet
type SweepResult struct {
	UserID     string `json:"user_id"`
	Candidates int    `json:"candidates"`
	Requested  int    `json:"requested"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Balance    int64  `json:"balance"`
}

// ReconcilerDeps are the collaborators of the reconciler
type ReconcilerDeps struct {
	Loop        *EventLoop
	Scheduler   Scheduler
	Ledger      ledger.Client
	Views       *LedgerViews
	Credentials CredentialSource
	Auditor     PaymentAuditor
	Logger      *logrus.Logger
}

// PendingTransactionReconciler asks the backend to settle gateway deposits
// stuck in pending. It never changes a transaction status itself.
type PendingTransactionReconciler struct {
	loop        *EventLoop
	scheduler   Scheduler
	ledger      ledger.Client
	views       *LedgerViews
	credentials CredentialSource
	auditor     PaymentAuditor
	logger      *logrus.Logger

	policy  ReconcilePolicy
	gateway string
	limiter *rate.Limiter
	group   singleflight.Group

	mu        sync.Mutex
	requested map[string]map[string]time.Time // user -> transaction key -> requested at

	now          func() time.Time
	sweepTimeout time.Duration
}

// NewPendingTransactionReconciler creates a new reconciler. A nil limiter means unthrottled.
func NewPendingTransactionReconciler(deps ReconcilerDeps, policy ReconcilePolicy, gateway string, limiter *rate.Limiter) *PendingTransactionReconciler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &PendingTransactionReconciler{
		loop:         deps.Loop,
		scheduler:    deps.Scheduler,
		ledger:       deps.Ledger,
		views:        deps.Views,
		credentials:  deps.Credentials,
		auditor:      deps.Auditor,
		logger:       deps.Logger,
		policy:       policy,
		gateway:      gateway,
		limiter:      limiter,
		requested:    make(map[string]map[string]time.Time),
		now:          time.Now,
		sweepTimeout: time.Minute,
	}
}

// Sweep refreshes the wallet and requests resolution of every eligible pending
// deposit. Concurrent sweeps of one wallet share a single run.
func (r *PendingTransactionReconciler) Sweep(ctx context.Context, userID string) (*SweepResult, error) {
	v, err, _ := r.group.Do(userID, func() (interface{}, error) {
		return r.sweep(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*SweepResult)
	return &result, nil
}

// Trigger runs a sweep in the background. Failures are logged and left to the next sweep.
func (r *PendingTransactionReconciler) Trigger(userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.sweepTimeout)
		defer cancel()

		if _, err := r.Sweep(ctx, userID); err != nil {
			r.logger.WithError(err).WithField("user_id", userID).Debug("Background sweep failed, will retry on next sweep")
		}
	}()
}

// SweepUsers sweeps each wallet in turn and returns how many resolve requests were made
func (r *PendingTransactionReconciler) SweepUsers(ctx context.Context, userIDs []string) (int, error) {
	requested := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return requested, err
		}
		result, err := r.Sweep(ctx, userID)
		if err != nil {
			r.logger.WithError(err).WithField("user_id", userID).Warn("Sweep failed")
			continue
		}
		requested += result.Requested
	}
	return requested, nil
}

func (r *PendingTransactionReconciler) sweep(ctx context.Context, userID string) (*SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSweep(time.Since(start).Seconds())
	}()

	token, ok := r.credentials.Token(userID)
	if !ok || token == "" {
		return nil, ErrNoCredential
	}

	wallet, err := r.refresh(ctx, userID, token)
	if err != nil {
		return nil, err
	}

	candidates, skipped := r.candidates(userID, wallet.Transactions)
	result := &SweepResult{
		UserID:     userID,
		Candidates: len(candidates),
		Skipped:    skipped,
		Balance:    wallet.Balance,
	}

	for _, tx := range candidates {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.WithError(err).WithField("user_id", userID).Debug("Sweep interrupted")
			break
		}
		if r.resolve(ctx, userID, token, tx) {
			result.Requested++
		} else {
			result.Failed++
		}
	}

	r.forgetSettled(userID, wallet.Transactions)

	if result.Requested > 0 {
		r.RequestRefresh(userID)
	}

	r.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"candidates":  result.Candidates,
		"requested":   result.Requested,
		"failed":      result.Failed,
		"skipped":     result.Skipped,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Pending transaction sweep finished")

	return result, nil
}

func (r *PendingTransactionReconciler) resolve(ctx context.Context, userID, token string, tx models.CoinTransaction) bool {
	req := ledger.ResolvePendingRequest{
		TransactionID:         tx.ID.String(),
		GatewayTransactionRef: tx.PaymentTransactionID,
	}
	started := time.Now()

	audit := models.NewPaymentAudit(models.PaymentEventPendingResolve, models.PaymentSourceReconciler).
		SetUser(userID).
		SetTransactionRef(tx.PaymentTransactionID).
		SetCoins(tx.Coins()).
		SetPayload(map[string]interface{}{"transaction_id": tx.ID.String()})

	resp, err := r.ledger.ResolvePendingTransaction(ctx, token, req)
	if err == nil && !resp.Success {
		err = fmt.Errorf("backend declined resolve: %s", resp.Message)
	}
	if err != nil {
		metrics.RecordResolveCall("error")
		audit.EventType = models.PaymentEventPendingResolveError
		r.auditor.Record(audit.SetError(err).SetProcessingTime(started))
		r.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":        userID,
			"transaction_id": tx.ID.String(),
		}).Warn("Resolve pending transaction failed")
		return false
	}

	metrics.RecordResolveCall("requested")
	r.auditor.Record(audit.SetProcessingTime(started))
	r.markRequested(userID, transactionKey(tx))
	return true
}

// candidates picks pending gateway deposits old enough to resolve.
// A deposit without a parsable creation time counts as old enough.
func (r *PendingTransactionReconciler) candidates(userID string, txs []models.CoinTransaction) ([]models.CoinTransaction, int) {
	now := r.now()

	r.mu.Lock()
	requested := r.requested[userID]
	r.mu.Unlock()

	var out []models.CoinTransaction
	skipped := 0
	for _, tx := range txs {
		if !tx.IsGatewayDeposit(r.gateway) || !tx.IsPending() {
			continue
		}
		key := transactionKey(tx)
		if key == "" {
			continue
		}
		if created, ok := tx.CreatedTime(); ok && now.Sub(created) < r.policy.MinPendingAge {
			skipped++
			continue
		}
		if at, ok := requested[key]; ok && (r.policy.RetryAfter <= 0 || now.Sub(at) < r.policy.RetryAfter) {
			skipped++
			continue
		}
		out = append(out, tx)
	}
	return out, skipped
}

func (r *PendingTransactionReconciler) markRequested(userID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.requested[userID] == nil {
		r.requested[userID] = make(map[string]time.Time)
	}
	r.requested[userID][key] = r.now()
}

// forgetSettled drops requested keys the wallet no longer lists as pending
func (r *PendingTransactionReconciler) forgetSettled(userID string, txs []models.CoinTransaction) {
	pending := make(map[string]struct{})
	for _, tx := range txs {
		if tx.IsPending() {
			pending[transactionKey(tx)] = struct{}{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.requested[userID] {
		if _, ok := pending[key]; !ok {
			delete(r.requested[userID], key)
		}
	}
	if len(r.requested[userID]) == 0 {
		delete(r.requested, userID)
	}
}

// refresh reads the wallet and replaces the view with it
func (r *PendingTransactionReconciler) refresh(ctx context.Context, userID, token string) (*models.Wallet, error) {
	var ticket ReadTicket
	if err := r.loop.Call(ctx, func() {
		ticket = r.views.For(userID).BeginRead()
	}); err != nil {
		return nil, err
	}

	wallet, err := r.ledger.GetWallet(ctx, token)
	if err != nil {
		metrics.RecordLedgerCall("get_wallet", "error")
		return nil, fmt.Errorf("failed to read wallet: %w", err)
	}
	metrics.RecordLedgerCall("get_wallet", "ok")

	if err := r.loop.Call(ctx, func() {
		r.views.For(userID).ReplaceWallet(ticket, wallet)
	}); err != nil {
		return nil, err
	}
	return wallet, nil
}

// RefreshWallet reads the wallet now and returns the resulting view
func (r *PendingTransactionReconciler) RefreshWallet(ctx context.Context, userID string) (*WalletSnapshot, error) {
	token, ok := r.credentials.Token(userID)
	if !ok || token == "" {
		return nil, ErrNoCredential
	}
	if _, err := r.refresh(ctx, userID, token); err != nil {
		return nil, err
	}
	return r.snapshot(ctx, userID)
}

// Wallet returns the current view, reading the wallet first if it was never hydrated
func (r *PendingTransactionReconciler) Wallet(ctx context.Context, userID string) (*WalletSnapshot, error) {
	snap, err := r.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snap.Hydrated {
		return snap, nil
	}
	return r.RefreshWallet(ctx, userID)
}

// RequestRefresh schedules a wallet re-read after the refresh delay
func (r *PendingTransactionReconciler) RequestRefresh(userID string) {
	r.scheduler.AfterFunc(r.policy.RefreshDelay, func() {
		// Timer callbacks run on the loop; the read must not
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.sweepTimeout)
			defer cancel()
			if _, err := r.RefreshWallet(ctx, userID); err != nil {
				r.logger.WithError(err).WithField("user_id", userID).Debug("Scheduled wallet refresh failed")
			}
		}()
	})
}

func (r *PendingTransactionReconciler) snapshot(ctx context.Context, userID string) (*WalletSnapshot, error) {
	var snap WalletSnapshot
	if err := r.loop.Call(ctx, func() {
		snap = r.views.For(userID).Snapshot()
	}); err != nil {
		return nil, err
	}
	return &snap, nil
}

func transactionKey(tx models.CoinTransaction) string {
	if id := tx.ID.String(); id != "" {
		return id
	}
	if tx.PaymentTransactionID != "" {
		return "ref:" + tx.PaymentTransactionID
	}
	return ""
}
