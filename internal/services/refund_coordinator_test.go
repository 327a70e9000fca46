package services

import (
	"context"
	"sync"
	"testing"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeRefresher) RequestRefresh(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
}

func paidOrder(id string, amount int64) models.OrderPaymentState {
	return models.OrderPaymentState{
		OrderID:       models.FlexibleID(id),
		PaymentMethod: "vnpay",
		PaymentStatus: models.OrderPaymentPaid,
		FinalAmount:   decimal.NewFromInt(amount),
	}
}

func setupRefundTest() (*CancellationRefundCoordinator, *fakeLedger, *fakeRefresher, *recordingAuditor) {
	client := newFakeLedger()
	refresher := &fakeRefresher{}
	auditor := &recordingAuditor{}
	coordinator := NewCancellationRefundCoordinator(client, refresher, auditor, "vnpay", 1000, quietLogger())
	return coordinator, client, refresher, auditor
}

func TestRefundPreview(t *testing.T) {
	coordinator, _, _, _ := setupRefundTest()

	tests := []struct {
		name     string
		order    models.OrderPaymentState
		eligible bool
		coins    int64
	}{
		{"exact thousands", paidOrder("1", 150000), true, 150},
		{"floors the remainder", paidOrder("2", 150999), true, 150},
		{"below one coin", paidOrder("3", 999), true, 0},
		{"empty payment status counts as paid", models.OrderPaymentState{
			OrderID: "4", PaymentMethod: "VNPay", FinalAmount: decimal.NewFromInt(20000),
		}, true, 20},
		{"paid with coins", models.OrderPaymentState{
			OrderID: "5", PaymentMethod: models.PaymentMethodCoins, PaymentStatus: models.OrderPaymentPaid, FinalAmount: decimal.NewFromInt(150000),
		}, false, 0},
		{"gateway payment not completed", models.OrderPaymentState{
			OrderID: "6", PaymentMethod: "vnpay", PaymentStatus: models.OrderPaymentPending, FinalAmount: decimal.NewFromInt(150000),
		}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			preview := coordinator.Preview(tt.order)
			assert.Equal(t, tt.eligible, preview.Eligible)
			assert.Equal(t, tt.coins, preview.ExpectedCoins)
			assert.Equal(t, tt.order.OrderID.String(), preview.OrderID)
			assert.NotEmpty(t, preview.Message)
		})
	}
}

func TestRefundPreview_FractionalAmount(t *testing.T) {
	coordinator, _, _, _ := setupRefundTest()
	order := paidOrder("7", 0)
	order.FinalAmount = decimal.RequireFromString("150999.99")

	assert.Equal(t, int64(150), coordinator.Preview(order).ExpectedCoins)
}

func TestCancel_ReportsBackendCredit(t *testing.T) {
	coordinator, client, refresher, auditor := setupRefundTest()
	refunded := decimal.NewFromInt(140)
	client.cancelResp = &ledger.CancelOrderResponse{
		Success:       true,
		Message:       "Order cancelled",
		RefundedCoins: &refunded,
		Order: &models.OrderPaymentState{
			OrderID: "ord-1", Status: "cancelled", PaymentStatus: models.OrderPaymentRefunded,
		},
	}

	outcome, err := coordinator.Cancel(context.Background(), testUser, testToken, paidOrder("ord-1", 150000))
	require.NoError(t, err)

	assert.Equal(t, int64(150), outcome.Preview.ExpectedCoins)
	require.NotNil(t, outcome.CreditedCoins)
	assert.Equal(t, int64(140), *outcome.CreditedCoins, "the backend's figure wins over the preview")
	assert.Equal(t, "cancelled", outcome.Order.Status)

	assert.Equal(t, []string{"ord-1"}, client.cancelCalls)
	assert.Equal(t, []string{testUser}, refresher.users)
	assert.Equal(t, 1, auditor.count(models.PaymentEventOrderCancelled))
}

func TestCancel_NoCreditReported(t *testing.T) {
	coordinator, _, refresher, _ := setupRefundTest()

	outcome, err := coordinator.Cancel(context.Background(), testUser, testToken, paidOrder("ord-2", 50000))
	require.NoError(t, err)

	assert.Nil(t, outcome.CreditedCoins)
	assert.Len(t, refresher.users, 1)
}

func TestCancel_Rejected(t *testing.T) {
	coordinator, client, refresher, auditor := setupRefundTest()
	client.cancelResp = &ledger.CancelOrderResponse{Success: false, Message: "order already shipped"}

	_, err := coordinator.Cancel(context.Background(), testUser, testToken, paidOrder("ord-3", 150000))
	assert.ErrorIs(t, err, ErrCancelRejected)
	assert.Contains(t, err.Error(), "order already shipped")

	assert.Empty(t, refresher.users)
	assert.Equal(t, 0, auditor.count(models.PaymentEventOrderCancelled))
}

func TestCancel_TransportError(t *testing.T) {
	coordinator, client, refresher, _ := setupRefundTest()
	client.cancelErr = errTransport

	_, err := coordinator.Cancel(context.Background(), testUser, testToken, paidOrder("ord-4", 150000))
	assert.ErrorIs(t, err, errTransport)
	assert.Empty(t, refresher.users)
}

func TestCancel_LeavesLedgerViewAlone(t *testing.T) {
	loop := startLoop(t)
	views := NewLedgerViews()
	hydrate(t, loop, views, testUser, 1000)

	client := newFakeLedger()
	refunded := decimal.NewFromInt(150)
	client.cancelResp = &ledger.CancelOrderResponse{Success: true, RefundedCoins: &refunded}
	coordinator := NewCancellationRefundCoordinator(client, &fakeRefresher{}, &recordingAuditor{}, "vnpay", 1000, quietLogger())

	_, err := coordinator.Cancel(context.Background(), testUser, testToken, paidOrder("ord-5", 150000))
	require.NoError(t, err)

	assert.Equal(t, int64(1000), displayedBalance(t, loop, views, testUser))
}
