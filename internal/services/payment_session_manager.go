package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/metrics"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/bookverse/payment-bridge/pkg/vnpay"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionNotFound is returned for unknown or already dismissed sessions
	ErrSessionNotFound = errors.New("payment session not found")

	// ErrInvalidPaymentRequest is returned when a payment cannot be started
	ErrInvalidPaymentRequest = errors.New("invalid payment request")
)

// PaymentSessionConfig holds the static settings of the session manager
type PaymentSessionConfig struct {
	Gateway        string
	LedgerBaseURL  string
	TopUpPath      string
	OrderPath      string
	MinTopUpAmount int64
	Policy         ReconcilePolicy
	Credits        CreditSchedule
}

// SessionDeps are the collaborators shared by every session
type SessionDeps struct {
	Loop        *EventLoop
	Scheduler   Scheduler
	Ledger      ledger.Client
	Views       *LedgerViews
	Credentials CredentialSource
	Sweeper     SweepTrigger
	Auditor     PaymentAuditor
	Observer    SessionObserver
	Logger      *logrus.Logger
}

// PaymentSessionManager starts payment sessions and routes browser events to them
type PaymentSessionManager struct {
	env         *sessionEnv
	sessions    map[uuid.UUID]*PaymentSession // loop-only
	topUpPrefix string
	orderPrefix string
	minTopUp    int64
}

// NewPaymentSessionManager creates a new session manager
func NewPaymentSessionManager(cfg PaymentSessionConfig, deps SessionDeps) *PaymentSessionManager {
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	base := strings.TrimRight(cfg.LedgerBaseURL, "/")
	return &PaymentSessionManager{
		env: &sessionEnv{
			loop:        deps.Loop,
			scheduler:   deps.Scheduler,
			ledger:      deps.Ledger,
			views:       deps.Views,
			credentials: deps.Credentials,
			sweeper:     deps.Sweeper,
			auditor:     deps.Auditor,
			observer:    observer,
			policy:      cfg.Policy,
			credits:     cfg.Credits,
			gateway:     cfg.Gateway,
			logger:      deps.Logger,
		},
		sessions:    make(map[uuid.UUID]*PaymentSession),
		topUpPrefix: base + "/" + strings.TrimLeft(cfg.TopUpPath, "/"),
		orderPrefix: base + "/" + strings.TrimLeft(cfg.OrderPath, "/"),
		minTopUp:    cfg.MinTopUpAmount,
	}
}

// StartTopUp asks the backend for a payment page and opens a top-up session
func (m *PaymentSessionManager) StartTopUp(ctx context.Context, userID, auth string, amount int64, meta ClientMeta) (*models.SessionSnapshot, error) {
	if amount <= 0 || amount < m.minTopUp {
		return nil, fmt.Errorf("%w: top-up amount must be at least %d", ErrInvalidPaymentRequest, max(m.minTopUp, 1))
	}

	resp, err := m.env.ledger.InitiateTopUp(ctx, auth, amount)
	if err != nil {
		metrics.RecordLedgerCall("initiate_topup", "error")
		return nil, fmt.Errorf("failed to start top-up: %w", err)
	}
	metrics.RecordLedgerCall("initiate_topup", "ok")

	return m.open(ctx, sessionParams{
		userID:       userID,
		kind:         models.SessionKindTopUp,
		amount:       amount,
		paymentURL:   resp.PaymentURL,
		returnPrefix: m.topUpPrefix,
		meta:         meta,
	}, resp.TransactionRef)
}

// StartOrderPayment asks the backend for a payment page of an existing order
func (m *PaymentSessionManager) StartOrderPayment(ctx context.Context, userID, auth, orderID string, amount int64, meta ClientMeta) (*models.SessionSnapshot, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidPaymentRequest)
	}

	resp, err := m.env.ledger.InitiateOrderPayment(ctx, auth, orderID)
	if err != nil {
		metrics.RecordLedgerCall("initiate_order_payment", "error")
		return nil, fmt.Errorf("failed to start order payment: %w", err)
	}
	metrics.RecordLedgerCall("initiate_order_payment", "ok")

	return m.open(ctx, sessionParams{
		userID:       userID,
		kind:         models.SessionKindOrder,
		amount:       amount,
		orderID:      orderID,
		paymentURL:   resp.PaymentURL,
		returnPrefix: m.orderPrefix,
		meta:         meta,
	}, resp.TransactionRef)
}

func (m *PaymentSessionManager) open(ctx context.Context, p sessionParams, transactionRef string) (*models.SessionSnapshot, error) {
	session := newPaymentSession(m.env, p)

	var snap models.SessionSnapshot
	err := m.env.loop.Call(ctx, func() {
		m.sessions[session.id] = session
		session.record(session.audit(models.PaymentEventInitiated, models.PaymentSourceUser).
			SetTransactionRef(transactionRef))
		snap = session.snapshot()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register payment session: %w", err)
	}

	metrics.RecordSessionStarted(string(p.kind))
	session.log().WithField("transaction_ref", transactionRef).Info("Payment session started")
	return &snap, nil
}

// GatewayLoading tells the session its hosted payment page started loading
func (m *PaymentSessionManager) GatewayLoading(ctx context.Context, id uuid.UUID, rawURL string) error {
	return m.withSession(ctx, id, func(s *PaymentSession) {
		s.handle(gatewayLoading{url: rawURL})
	})
}

// DeliverReturn hands a gateway return URL to the session
func (m *PaymentSessionManager) DeliverReturn(ctx context.Context, id uuid.UUID, rawURL string) error {
	return m.withSession(ctx, id, func(s *PaymentSession) {
		s.handle(returnDelivered{url: rawURL})
	})
}

// Snapshot returns a copy of the session
func (m *PaymentSessionManager) Snapshot(ctx context.Context, id uuid.UUID) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	err := m.withSession(ctx, id, func(s *PaymentSession) {
		snap = s.snapshot()
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Dismiss closes the browser surface of a session. A session that never saw
// a return resolves as cancelled by the user.
func (m *PaymentSessionManager) Dismiss(ctx context.Context, id uuid.UUID) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	err := m.withSession(ctx, id, func(s *PaymentSession) {
		s.handle(dismissed{})
		snap = s.snapshot()
		delete(m.sessions, id)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// HandleOrphanReturn takes a gateway return seen outside any session.
// No session is created; the user's wallet is swept instead.
func (m *PaymentSessionManager) HandleOrphanReturn(userID, rawURL string) {
	cb := vnpay.ParseCallbackURL(rawURL)

	metrics.RecordOrphanCallback()
	m.env.logger.WithFields(logrus.Fields{
		"user_id":         userID,
		"transaction_ref": cb.TransactionReference(),
		"response_code":   cb.ResponseCode(),
	}).Info("Gateway return outside a session, sweeping wallet")

	m.env.auditor.Record(models.NewPaymentAudit(models.PaymentEventOrphanCallback, models.PaymentSourceBrowser).
		SetUser(userID).
		SetTransactionRef(cb.TransactionReference()).
		SetGatewayResult(cb.ResponseCode(), cb.GatewayTransactionNo()))

	if userID != "" {
		m.env.sweeper.Trigger(userID)
	}
}

// ExpireStale dismisses sessions older than maxAge and returns how many went
func (m *PaymentSessionManager) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	expired := 0
	err := m.env.loop.Call(ctx, func() {
		for id, s := range m.sessions {
			if s.createdAt.Before(cutoff) {
				s.handle(dismissed{})
				delete(m.sessions, id)
				expired++
			}
		}
	})
	return expired, err
}

// ActiveCount returns the number of sessions not yet dismissed
func (m *PaymentSessionManager) ActiveCount(ctx context.Context) (int, error) {
	count := 0
	err := m.env.loop.Call(ctx, func() {
		count = len(m.sessions)
	})
	return count, err
}

func (m *PaymentSessionManager) withSession(ctx context.Context, id uuid.UUID, fn func(s *PaymentSession)) error {
	found := false
	err := m.env.loop.Call(ctx, func() {
		s, ok := m.sessions[id]
		if !ok {
			return
		}
		found = true
		fn(s)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrSessionNotFound
	}
	return nil
}
