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

func TestOnNavigation_GatewayPageLoads(t *testing.T) {
	h := setupSessionTest(t)
	id := h.startTopUp(t, 100000)

	decision := h.navigate(t, id, NavigationStarted, gatewayPage)
	assert.Equal(t, NavigationAllow, decision.Action)
	assert.Equal(t, models.SessionStateAwaitingGatewayReturn, h.snapshot(t, id).State)

	decision = h.navigate(t, id, NavigationFinished, "https://sandbox.vnpayment.vn/paymentv2/Transaction/PaymentMethod.html")
	assert.Equal(t, NavigationAllow, decision.Action)
	assert.Equal(t, 0, h.ledger.resolveCallCount())
}

func TestOnNavigation_ReturnIsBlockedAndDelivered(t *testing.T) {
	h := setupSessionTest(t)
	hydrate(t, h.loop, h.views, testUser, 0)
	id := h.startTopUp(t, 100000)
	h.navigate(t, id, NavigationStarted, gatewayPage)

	decision := h.navigate(t, id, NavigationStarted, topUpReturn("00", "TOPUP-1"))
	assert.Equal(t, NavigationBlock, decision.Action)
	assert.Equal(t, vnpay.ReturnTopUp, decision.ReturnKind)
	assert.False(t, decision.Orphan)

	h.waitResolved(t, id)
	assert.Equal(t, 1, h.ledger.resolveCallCount())
}

func TestOnNavigation_OrphanReturnSweepsWallet(t *testing.T) {
	h := setupSessionTest(t)

	decision, err := h.interceptor.OnNavigation(context.Background(), testUser, uuid.New(), NavigationStarted, topUpReturn("00", "TOPUP-9"))
	require.NoError(t, err)

	assert.Equal(t, NavigationBlock, decision.Action)
	assert.True(t, decision.Orphan)
	assert.Equal(t, []string{testUser}, h.sweeper.triggered())
	assert.Equal(t, 1, h.auditor.count(models.PaymentEventOrphanCallback))
	assert.Equal(t, 0, h.ledger.resolveCallCount(), "orphans are never forwarded as callbacks")
}

func TestOnNavigation_UnknownSessionNonReturnAllowed(t *testing.T) {
	h := setupSessionTest(t)

	decision, err := h.interceptor.OnNavigation(context.Background(), testUser, uuid.New(), NavigationStarted, gatewayPage)
	require.NoError(t, err)
	assert.Equal(t, NavigationAllow, decision.Action)
	assert.Empty(t, h.sweeper.triggered())
}

func TestOnExternalReturn(t *testing.T) {
	h := setupSessionTest(t)

	decision := h.interceptor.OnExternalReturn(testUser, "https://bookverse.vn/books/42")
	assert.Equal(t, NavigationAllow, decision.Action)
	assert.Empty(t, h.sweeper.triggered())

	decision = h.interceptor.OnExternalReturn(testUser, orderReturn("24", "ORD-1"))
	assert.Equal(t, NavigationBlock, decision.Action)
	assert.Equal(t, vnpay.ReturnOrder, decision.ReturnKind)
	assert.True(t, decision.Orphan)
	assert.Equal(t, []string{testUser}, h.sweeper.triggered())
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "sandbox.vnpayment.vn", hostOf(gatewayPage))
	assert.Equal(t, "", hostOf("::not a url"))
}
