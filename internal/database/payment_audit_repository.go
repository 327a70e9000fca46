package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log inserts one audit row
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, session_id, user_id, transaction_ref, order_id,
			event_type, event_source, session_kind,
			amount, coin_amount,
			response_code, gateway_transaction_no,
			payload, error_message,
			processing_time_ms, is_duplicate,
			ip_address, platform, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12,
			$13, $14,
			$15, $16,
			$17, $18, $19
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.SessionID, audit.UserID, audit.TransactionRef, audit.OrderID,
		audit.EventType, audit.EventSource, audit.SessionKind,
		audit.Amount, audit.CoinAmount,
		audit.ResponseCode, audit.GatewayTransactionNo,
		audit.Payload, audit.ErrorMessage,
		audit.ProcessingTimeMs, audit.IsDuplicate,
		audit.IPAddress, audit.Platform, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":      audit.EventType,
			"transaction_ref": audit.TransactionRef,
		}).Error("Failed to store payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// CheckDuplicate reports whether an event was already stored for a transaction reference
func (r *PaymentAuditRepository) CheckDuplicate(ctx context.Context, transactionRef string, eventType models.PaymentEventType) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM payment_audits
		WHERE transaction_ref = $1
		AND event_type = $2
		AND is_duplicate = FALSE`

	if err := r.db.GetContext(ctx, &count, query, transactionRef, eventType); err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return count > 0, nil
}

// GetBySession retrieves the audit trail of a payment session
func (r *PaymentAuditRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE session_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to get audits by session: %w", err)
	}
	return audits, nil
}

// GetByTransactionRef retrieves every event seen for a merchant transaction reference
func (r *PaymentAuditRepository) GetByTransactionRef(ctx context.Context, transactionRef string) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE transaction_ref = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, transactionRef); err != nil {
		return nil, fmt.Errorf("failed to get audits by transaction ref: %w", err)
	}
	return audits, nil
}

// GetRecentByEventType retrieves recent events of one type
func (r *PaymentAuditRepository) GetRecentByEventType(ctx context.Context, eventType models.PaymentEventType, hours int, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `
		SELECT * FROM payment_audits
		WHERE event_type = $1
		AND created_at > NOW() - INTERVAL '1 hour' * $2
		ORDER BY created_at DESC
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &audits, query, eventType, hours, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}
	return audits, nil
}
