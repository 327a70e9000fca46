package services

import (
	"context"
	"fmt"
	"time"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/metrics"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/bookverse/payment-bridge/internal/utils"
	"github.com/bookverse/payment-bridge/pkg/vnpay"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionObserver is told about session results. It is called on the event
// loop and must not block.
type SessionObserver interface {
	SessionResolved(snapshot models.SessionSnapshot)
	BalanceConfirmed(userID string, balance int64)
}

type nopObserver struct{}

func (nopObserver) SessionResolved(models.SessionSnapshot) {}
func (nopObserver) BalanceConfirmed(string, int64)         {}

// SweepTrigger starts background reconciliation for a wallet. RequestRefresh
// takes over a confirmation read a closing session can no longer make.
type SweepTrigger interface {
	Trigger(userID string)
	RequestRefresh(userID string)
}

// ClientMeta describes the shell that started a session
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// sessionEnv is what every session of a manager shares
type sessionEnv struct {
	loop        *EventLoop
	scheduler   Scheduler
	ledger      ledger.Client
	views       *LedgerViews
	credentials CredentialSource
	sweeper     SweepTrigger
	auditor     PaymentAuditor
	observer    SessionObserver
	policy      ReconcilePolicy
	credits     CreditSchedule
	gateway     string
	logger      *logrus.Logger
}

// Events fed to a session. All of them are handled on the event loop.
type sessionEvent interface {
	isSessionEvent()
}

type gatewayLoading struct {
	url string
}

type returnDelivered struct {
	url string
}

type callbackResolved struct {
	resp    *ledger.ResolveCallbackResponse
	err     error
	started time.Time
}

type confirmDue struct {
	stamp uint64
}

type balanceRead struct {
	ticket ReadTicket
	resp   *ledger.BalanceResponse
	err    error
}

type dismissed struct{}

func (gatewayLoading) isSessionEvent()   {}
func (returnDelivered) isSessionEvent()  {}
func (callbackResolved) isSessionEvent() {}
func (confirmDue) isSessionEvent()       {}
func (balanceRead) isSessionEvent()      {}
func (dismissed) isSessionEvent()        {}

// PaymentSession follows one redirect payment from start to resolution.
// Every field is owned by the event loop.
type PaymentSession struct {
	id           uuid.UUID
	userID       string
	kind         models.SessionKind
	amount       int64
	orderID      string
	paymentURL   string
	returnPrefix string
	meta         ClientMeta
	createdAt    time.Time

	state          models.SessionState
	expectedCredit int64
	outcome        *models.SessionOutcome
	callback       vnpay.Callback
	seenRefs       map[string]struct{}

	timers   []Timer
	inflight context.CancelFunc
	closed   bool

	confirmPending bool

	env *sessionEnv
}

type sessionParams struct {
	userID       string
	kind         models.SessionKind
	amount       int64
	orderID      string
	paymentURL   string
	returnPrefix string
	meta         ClientMeta
}

func newPaymentSession(env *sessionEnv, p sessionParams) *PaymentSession {
	return &PaymentSession{
		id:           uuid.New(),
		userID:       p.userID,
		kind:         p.kind,
		amount:       p.amount,
		orderID:      p.orderID,
		paymentURL:   p.paymentURL,
		returnPrefix: p.returnPrefix,
		meta:         p.meta,
		createdAt:    time.Now(),
		state:        models.SessionStateInitiated,
		seenRefs:     make(map[string]struct{}),
		env:          env,
	}
}

// handle dispatches one event. A closed session ignores everything.
func (s *PaymentSession) handle(ev sessionEvent) {
	if s.closed {
		s.log().WithField("event", fmt.Sprintf("%T", ev)).Debug("Event for closed session ignored")
		return
	}

	switch e := ev.(type) {
	case gatewayLoading:
		s.onGatewayLoading(e)
	case returnDelivered:
		s.onReturn(e)
	case callbackResolved:
		s.onCallbackResolved(e)
	case confirmDue:
		s.onConfirmDue(e)
	case balanceRead:
		s.onBalanceRead(e)
	case dismissed:
		s.onDismissed()
	}
}

func (s *PaymentSession) onGatewayLoading(e gatewayLoading) {
	if s.state != models.SessionStateInitiated {
		return
	}
	s.transition(models.SessionStateAwaitingGatewayReturn)
	s.record(s.audit(models.PaymentEventGatewayLoading, models.PaymentSourceBrowser).
		SetPayload(map[string]interface{}{"host": hostOf(e.url)}))
}

func (s *PaymentSession) onReturn(e returnDelivered) {
	cb := vnpay.ParseCallbackURL(e.url)

	// Returns without a reference are keyed by the raw URL
	key := cb.TransactionReference()
	if key == "" {
		key = e.url
	}

	if _, seen := s.seenRefs[key]; seen {
		s.duplicateReturn(cb)
		return
	}
	if s.state != models.SessionStateInitiated && s.state != models.SessionStateAwaitingGatewayReturn {
		s.duplicateReturn(cb)
		return
	}

	s.seenRefs[key] = struct{}{}
	s.callback = cb
	s.transition(models.SessionStateReturnReceived)
	s.record(s.audit(models.PaymentEventReturnReceived, models.PaymentSourceBrowser).
		SetPayload(stringParams(cb.Params())))

	s.reconcile()
}

func (s *PaymentSession) duplicateReturn(cb vnpay.Callback) {
	metrics.RecordDuplicateReturn()
	s.log().WithFields(logrus.Fields{
		"transaction_ref": cb.TransactionReference(),
		"state":           s.state,
	}).Debug("Duplicate gateway return ignored")
	s.record(models.NewPaymentAudit(models.PaymentEventReturnDuplicate, models.PaymentSourceBrowser).
		SetSession(s.id, s.kind).
		SetUser(s.userID).
		SetTransactionRef(cb.TransactionReference()).
		SetGatewayResult(cb.ResponseCode(), cb.GatewayTransactionNo()).
		MarkAsDuplicate())
}

func (s *PaymentSession) reconcile() {
	token, ok := s.env.credentials.Token(s.userID)
	if !ok || token == "" {
		s.log().Warn("No credential available, resolving from response code only")
		s.resolve(nil, true)
		return
	}

	s.transition(models.SessionStateReconcilingWithBackend)

	ctx, cancel := context.WithCancel(context.Background())
	s.inflight = cancel

	client := s.env.ledger
	req := ledger.ResolveCallbackRequest{
		Gateway: s.env.gateway,
		Kind:    s.kind,
		Params:  s.callback.Params(),
	}
	started := time.Now()

	s.env.loop.Go(func() func() {
		resp, err := client.ResolveCallback(ctx, token, req)
		return func() {
			s.handle(callbackResolved{resp: resp, err: err, started: started})
		}
	})
}

func (s *PaymentSession) onCallbackResolved(e callbackResolved) {
	if s.state != models.SessionStateReconcilingWithBackend {
		return
	}
	s.releaseInflight()

	if e.err != nil {
		metrics.RecordLedgerCall("resolve_callback", "error")
		s.log().WithError(e.err).Warn("Callback resolution failed, falling back to response code")
		s.record(s.audit(models.PaymentEventCallbackFailed, models.PaymentSourceBackend).
			SetError(e.err).
			SetProcessingTime(e.started))
		s.resolve(nil, true)
		return
	}

	metrics.RecordLedgerCall("resolve_callback", "ok")
	s.record(s.audit(models.PaymentEventCallbackResolved, models.PaymentSourceBackend).
		SetPayload(map[string]interface{}{
			"success": e.resp.Success,
			"message": e.resp.Message,
		}).
		SetProcessingTime(e.started))

	if e.resp.Success != s.callback.IsSuccess() {
		s.log().WithFields(logrus.Fields{
			"backend_success": e.resp.Success,
			"response_code":   s.callback.ResponseCode(),
		}).Warn("Backend verdict differs from response code; balance read will converge")
	}

	s.resolve(e.resp, false)
}

// resolve decides the outcome from the response code. Only a successful
// top-up touches the ledger view.
func (s *PaymentSession) resolve(resp *ledger.ResolveCallbackResponse, degraded bool) {
	code := s.callback.ResponseCode()
	outcome := &models.SessionOutcome{
		ResponseCode:   code,
		TransactionRef: s.callback.TransactionReference(),
		Degraded:       degraded,
		ResolvedAt:     time.Now(),
	}
	if resp != nil && resp.BalanceAfter != nil {
		balance := resp.BalanceAfter.IntPart()
		outcome.BackendBalanceAfter = &balance
	}

	if code != vnpay.SuccessCode {
		reason, message := vnpay.DescribeCode(code)
		outcome.Reason = string(reason)
		outcome.Message = message
		s.finish(outcome)

		// The backend may have settled an ambiguous return out of band
		if !s.callback.HasResponseCode() {
			s.env.sweeper.Trigger(s.userID)
		}
		return
	}

	outcome.Success = true

	if s.kind == models.SessionKindOrder {
		outcome.OpenOrderID = s.orderID
		outcome.Message = "Payment successful."
		s.finish(outcome)
		return
	}

	credit := s.env.credits.ExpectedCredit(s.amount)
	s.expectedCredit = credit
	outcome.ExpectedCredit = credit
	outcome.Message = fmt.Sprintf("Top-up successful: +%d coins.", credit)

	view := s.env.views.For(s.userID)
	stamp := view.ApplyCredit(credit)
	s.record(s.audit(models.PaymentEventOptimisticCredit, models.PaymentSourceSystem).
		SetCoins(credit).
		SetPayload(map[string]interface{}{"balance": view.Balance(), "stamp": stamp}))

	s.finish(outcome)
	s.scheduleConfirm(stamp)
}

func (s *PaymentSession) finish(outcome *models.SessionOutcome) {
	s.outcome = outcome
	s.transition(models.SessionStateResolved)

	metrics.RecordSessionResolved(string(s.kind), outcome.Success, outcome.Reason)

	eventType := models.PaymentEventFailed
	source := models.PaymentSourceBrowser
	switch {
	case outcome.Success:
		eventType = models.PaymentEventSuccess
	case outcome.Reason == string(vnpay.ReasonUserCancelled):
		eventType = models.PaymentEventCancelled
		source = models.PaymentSourceUser
	}
	audit := s.audit(eventType, source).SetPayload(map[string]interface{}{
		"reason":   outcome.Reason,
		"message":  outcome.Message,
		"degraded": outcome.Degraded,
	})
	if outcome.Success && s.kind == models.SessionKindTopUp {
		audit.SetCoins(outcome.ExpectedCredit)
	}
	s.record(audit)

	s.log().WithFields(logrus.Fields{
		"success":  outcome.Success,
		"reason":   outcome.Reason,
		"degraded": outcome.Degraded,
	}).Info("Payment session resolved")

	s.env.observer.SessionResolved(s.snapshot())
}

// scheduleConfirm arms the delayed authoritative read. It only subsumes
// credits up to stamp.
func (s *PaymentSession) scheduleConfirm(stamp uint64) {
	if stamp == 0 {
		return
	}
	timer := s.env.scheduler.AfterFunc(s.env.policy.ConfirmDelay, func() {
		s.handle(confirmDue{stamp: stamp})
	})
	s.timers = append(s.timers, timer)
	s.confirmPending = true
}

func (s *PaymentSession) onConfirmDue(e confirmDue) {
	token, ok := s.env.credentials.Token(s.userID)
	if !ok || token == "" {
		s.confirmPending = false
		s.log().Debug("No credential for confirmation read, leaving it to the next wallet refresh")
		return
	}

	ticket := s.env.views.For(s.userID).BeginReadSubsuming(e.stamp)

	ctx, cancel := context.WithCancel(context.Background())
	s.inflight = cancel

	client := s.env.ledger
	s.env.loop.Go(func() func() {
		resp, err := client.GetBalance(ctx, token)
		return func() {
			s.handle(balanceRead{ticket: ticket, resp: resp, err: err})
		}
	})
}

func (s *PaymentSession) onBalanceRead(e balanceRead) {
	s.releaseInflight()
	s.confirmPending = false

	if e.err != nil {
		metrics.RecordLedgerCall("get_balance", "error")
		s.log().WithError(e.err).Warn("Confirmation read failed, next wallet refresh converges")
		return
	}
	metrics.RecordLedgerCall("get_balance", "ok")

	view := s.env.views.For(s.userID)
	if !view.ReplaceWith(e.ticket, e.resp.Balance) {
		s.log().Debug("Stale confirmation read dropped")
		return
	}

	s.record(s.audit(models.PaymentEventBalanceConfirmed, models.PaymentSourceBackend).
		SetCoins(e.resp.Balance).
		SetPayload(map[string]interface{}{
			"expected_credit": s.expectedCredit,
			"displayed":       view.Balance(),
		}))

	s.env.observer.BalanceConfirmed(s.userID, view.Balance())
}

func (s *PaymentSession) onDismissed() {
	switch s.state {
	case models.SessionStateInitiated, models.SessionStateAwaitingGatewayReturn:
		s.finish(&models.SessionOutcome{
			Reason:     string(vnpay.ReasonUserCancelled),
			Message:    vnpay.MessageFor(vnpay.ReasonUserCancelled),
			ResolvedAt: time.Now(),
		})
	case models.SessionStateReturnReceived, models.SessionStateReconcilingWithBackend:
		// The return was seen but never resolved; the backend may still settle it
		s.env.sweeper.Trigger(s.userID)
	case models.SessionStateResolved:
		// The shell closes right after a top-up; the wallet read outlives the session
		if s.confirmPending {
			s.env.sweeper.RequestRefresh(s.userID)
		}
	}
	s.close()
}

// close cancels timers and in-flight calls. Completions arriving later are ignored.
func (s *PaymentSession) close() {
	for _, timer := range s.timers {
		timer.Stop()
	}
	s.timers = nil
	s.releaseInflight()
	s.closed = true
	metrics.RecordSessionClosed()
}

func (s *PaymentSession) releaseInflight() {
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
}

func (s *PaymentSession) transition(to models.SessionState) {
	s.log().WithFields(logrus.Fields{
		"from": s.state,
		"to":   to,
	}).Debug("Payment session transition")
	s.state = to
}

func (s *PaymentSession) snapshot() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		ID:              s.id,
		UserID:          s.userID,
		Kind:            s.kind,
		Amount:          s.amount,
		OrderID:         s.orderID,
		PaymentURL:      s.paymentURL,
		ReturnURLPrefix: s.returnPrefix,
		State:           s.state,
		ExpectedCredit:  s.expectedCredit,
		Closed:          s.closed,
		CreatedAt:       s.createdAt,
	}
	if s.outcome != nil {
		outcome := *s.outcome
		snap.Outcome = &outcome
	}
	return snap
}

func (s *PaymentSession) audit(eventType models.PaymentEventType, source models.PaymentEventSource) *models.PaymentAudit {
	audit := models.NewPaymentAudit(eventType, source).
		SetSession(s.id, s.kind).
		SetUser(s.userID).
		SetOrder(s.orderID).
		SetAmount(s.amount).
		SetMetadata(s.meta.IPAddress, utils.PlatformLabel(s.meta.UserAgent))
	if s.callback != nil {
		audit.SetTransactionRef(s.callback.TransactionReference()).
			SetGatewayResult(s.callback.ResponseCode(), s.callback.GatewayTransactionNo())
	}
	return audit
}

func (s *PaymentSession) record(audit *models.PaymentAudit) {
	s.env.auditor.Record(audit)
}

func (s *PaymentSession) log() *logrus.Entry {
	return s.env.logger.WithFields(logrus.Fields{
		"session_id": s.id.String(),
		"user_id":    s.userID,
		"kind":       s.kind,
	})
}

func stringParams(params map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if k == vnpay.ParamSecureHash {
			continue
		}
		out[k] = v
	}
	return out
}
