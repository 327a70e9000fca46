package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAuditStore struct {
	mu   sync.Mutex
	rows []*models.PaymentAudit
	err  error
}

func (m *memoryAuditStore) Log(ctx context.Context, audit *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, audit)
	return nil
}

func (m *memoryAuditStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func TestAuditService_StopFlushesQueue(t *testing.T) {
	store := &memoryAuditStore{}
	svc := NewAuditService(store, quietLogger(), true)

	// Queued before the writer starts
	for i := 0; i < 5; i++ {
		svc.Record(models.NewPaymentAudit(models.PaymentEventReturnReceived, models.PaymentSourceBrowser).SetUser(testUser))
	}
	svc.Start()
	svc.Stop()

	assert.Equal(t, 5, store.count())
	svc.Stop()
}

func TestAuditService_LogsEveryEvent(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	svc := NewAuditService(nil, logger, true)

	svc.Record(models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceBrowser).
		SetUser(testUser).
		SetTransactionRef("TOPUP-1").
		SetGatewayResult("00", "14012345").
		SetCoins(1150))

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, models.PaymentEventSuccess, entry.Data["event_type"])
	assert.Equal(t, testUser, entry.Data["user_id"])
	assert.Equal(t, "TOPUP-1", entry.Data["transaction_ref"])
	assert.Equal(t, int64(1150), entry.Data["coins"])
}

func TestAuditService_Disabled(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	store := &memoryAuditStore{}
	svc := NewAuditService(store, logger, false)
	svc.Start()

	svc.Record(models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceBrowser))
	svc.Record(nil)
	svc.Stop()

	assert.Empty(t, hook.AllEntries())
	assert.Equal(t, 0, store.count())
}

func TestAuditService_DropsWhenQueueFull(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	svc := NewAuditService(&memoryAuditStore{}, logger, true)

	for i := 0; i < cap(svc.queue)+1; i++ {
		svc.Record(models.NewPaymentAudit(models.PaymentEventReturnReceived, models.PaymentSourceBrowser))
	}

	assert.Len(t, svc.queue, cap(svc.queue))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestAuditService_StoreErrorsAreLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	store := &memoryAuditStore{err: errors.New("connection reset")}
	svc := NewAuditService(store, logger, true)
	svc.Start()

	svc.Record(models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceSystem))
	svc.Stop()

	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
