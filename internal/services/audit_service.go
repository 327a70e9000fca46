package services

import (
	"context"
	"sync"
	"time"

	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentAuditor records diagnostic payment events. Record must not block.
type PaymentAuditor interface {
	Record(audit *models.PaymentAudit)
}

// AuditStore persists audit rows (the sqlx repository in production)
type AuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// AuditService logs every payment event and, when a store is configured,
// writes it from a background worker
type AuditService struct {
	store   AuditStore
	logger  *logrus.Logger
	enabled bool
	queue   chan *models.PaymentAudit
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAuditService creates a new audit service. store may be nil.
func NewAuditService(store AuditStore, logger *logrus.Logger, enabled bool) *AuditService {
	return &AuditService{
		store:   store,
		logger:  logger,
		enabled: enabled,
		queue:   make(chan *models.PaymentAudit, 512),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the store writer
func (s *AuditService) Start() {
	if s.store == nil || !s.enabled {
		return
	}
	s.wg.Add(1)
	go s.run()
}

// Stop flushes queued rows and stops the writer
func (s *AuditService) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Record logs the event and queues it for the store
func (s *AuditService) Record(audit *models.PaymentAudit) {
	if audit == nil || !s.enabled {
		return
	}

	s.logger.WithFields(auditFields(audit)).Info("Payment event")

	if s.store == nil {
		return
	}

	select {
	case s.queue <- audit:
	default:
		s.logger.WithField("event_type", audit.EventType).Warn("Audit queue full, dropping row")
	}
}

func (s *AuditService) run() {
	defer s.wg.Done()

	for {
		select {
		case audit := <-s.queue:
			s.write(audit)
		case <-s.stopCh:
			for {
				select {
				case audit := <-s.queue:
					s.write(audit)
				default:
					return
				}
			}
		}
	}
}

func (s *AuditService) write(audit *models.PaymentAudit) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Error("AUDIT ERROR: failed to store payment event")
	}
}

func auditFields(audit *models.PaymentAudit) logrus.Fields {
	fields := logrus.Fields{
		"event_type":   audit.EventType,
		"event_source": audit.EventSource,
	}
	if audit.SessionID != nil {
		fields["session_id"] = audit.SessionID.String()
	}
	if audit.UserID != nil {
		fields["user_id"] = *audit.UserID
	}
	if audit.TransactionRef != nil {
		fields["transaction_ref"] = *audit.TransactionRef
	}
	if audit.OrderID != nil {
		fields["order_id"] = *audit.OrderID
	}
	if audit.ResponseCode != nil {
		fields["response_code"] = *audit.ResponseCode
	}
	if audit.CoinAmount != nil {
		fields["coins"] = *audit.CoinAmount
	}
	if audit.ErrorMessage != nil {
		fields["error"] = *audit.ErrorMessage
	}
	if audit.IsDuplicate {
		fields["duplicate"] = true
	}
	return fields
}
