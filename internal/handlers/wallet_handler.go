package handlers

import (
	"context"
	"net/http"

	"github.com/bookverse/payment-bridge/internal/middleware"
	"github.com/bookverse/payment-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WalletReconciler is the reconciler as the wallet endpoints use it
type WalletReconciler interface {
	Wallet(ctx context.Context, userID string) (*services.WalletSnapshot, error)
	Sweep(ctx context.Context, userID string) (*services.SweepResult, error)
}

// WalletHandler serves the wallet screen
type WalletHandler struct {
	reconciler WalletReconciler
	logger     *logrus.Logger
}

// NewWalletHandler creates a new WalletHandler
func NewWalletHandler(reconciler WalletReconciler, logger *logrus.Logger) *WalletHandler {
	return &WalletHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// GetWallet handles GET /api/v1/wallet. The balance includes optimistic
// credits not yet confirmed by the backend.
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	snap, err := h.reconciler.Wallet(c.Request.Context(), userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, "get_wallet", err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// Refresh handles POST /api/v1/wallet/refresh, sent when the wallet screen
// opens or the app resumes. It re-reads the wallet and asks the backend to
// settle pending deposits.
func (h *WalletHandler) Refresh(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)
	ctx := c.Request.Context()

	result, err := h.reconciler.Sweep(ctx, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, "refresh_wallet", err)
		return
	}

	snap, err := h.reconciler.Wallet(ctx, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, "refresh_wallet", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet": snap,
		"sweep":  result,
	})
}
