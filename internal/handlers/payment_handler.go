package handlers

import (
	"context"
	"net/http"

	"github.com/bookverse/payment-bridge/internal/middleware"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/bookverse/payment-bridge/internal/services"
	"github.com/bookverse/payment-bridge/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentSessions is the session manager as the handlers use it
type PaymentSessions interface {
	StartTopUp(ctx context.Context, userID, auth string, amount int64, meta services.ClientMeta) (*models.SessionSnapshot, error)
	StartOrderPayment(ctx context.Context, userID, auth, orderID string, amount int64, meta services.ClientMeta) (*models.SessionSnapshot, error)
	Snapshot(ctx context.Context, id uuid.UUID) (*models.SessionSnapshot, error)
	Dismiss(ctx context.Context, id uuid.UUID) (*models.SessionSnapshot, error)
}

// NavigationInterceptor classifies navigations of the payment browser
type NavigationInterceptor interface {
	OnNavigation(ctx context.Context, userID string, sessionID uuid.UUID, hook services.NavigationHook, rawURL string) (services.NavigationDecision, error)
	OnExternalReturn(userID, rawURL string) services.NavigationDecision
}

// PaymentHandler serves the payment session endpoints the app shell drives
type PaymentHandler struct {
	sessions    PaymentSessions
	interceptor NavigationInterceptor
	logger      *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(sessions PaymentSessions, interceptor NavigationInterceptor, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		sessions:    sessions,
		interceptor: interceptor,
		logger:      logger,
	}
}

// TopUpRequest starts a coin top-up
type TopUpRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// OrderPaymentRequest starts the payment of an existing order
type OrderPaymentRequest struct {
	Amount int64 `json:"amount" binding:"gte=0"`
}

// NavigationRequest reports one navigation of the payment browser
type NavigationRequest struct {
	URL  string                  `json:"url" binding:"required"`
	Hook services.NavigationHook `json:"hook"`
}

// CallbackRequest reports a return URL that reached the app outside the browser
type CallbackRequest struct {
	URL       string `json:"url" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// StartTopUp handles POST /api/v1/payments/topup
func (h *PaymentHandler) StartTopUp(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	snap, err := h.sessions.StartTopUp(c.Request.Context(), userCtx.UserID, userCtx.Token, req.Amount, clientMeta(c))
	if err != nil {
		respondError(c, h.logger, "start_topup", err)
		return
	}

	c.JSON(http.StatusCreated, snap)
}

// StartOrderPayment handles POST /api/v1/payments/orders/:id
func (h *PaymentHandler) StartOrderPayment(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req OrderPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}

	snap, err := h.sessions.StartOrderPayment(c.Request.Context(), userCtx.UserID, userCtx.Token, c.Param("id"), req.Amount, clientMeta(c))
	if err != nil {
		respondError(c, h.logger, "start_order_payment", err)
		return
	}

	c.JSON(http.StatusCreated, snap)
}

// GetSession handles GET /api/v1/payments/sessions/:id
func (h *PaymentHandler) GetSession(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	snap, ok := h.ownedSession(c, userCtx.UserID, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Navigation handles POST /api/v1/payments/sessions/:id/navigation
func (h *PaymentHandler) Navigation(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req NavigationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.Hook == "" {
		req.Hook = services.NavigationStarted
	}
	if req.Hook != services.NavigationStarted && req.Hook != services.NavigationFinished {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unknown navigation hook"})
		return
	}

	snap, ok := h.ownedSession(c, userCtx.UserID, c.Param("id"))
	if !ok {
		return
	}

	decision, err := h.interceptor.OnNavigation(c.Request.Context(), userCtx.UserID, snap.ID, req.Hook, req.URL)
	if err != nil {
		respondError(c, h.logger, "navigation", err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// Dismiss handles POST /api/v1/payments/sessions/:id/dismiss
func (h *PaymentHandler) Dismiss(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	snap, ok := h.ownedSession(c, userCtx.UserID, c.Param("id"))
	if !ok {
		return
	}

	closed, err := h.sessions.Dismiss(c.Request.Context(), snap.ID)
	if err != nil {
		respondError(c, h.logger, "dismiss", err)
		return
	}

	c.JSON(http.StatusOK, closed)
}

// Callback handles POST /api/v1/payments/callbacks. A return URL with a
// session goes through that session; one without is treated as an orphan.
func (h *PaymentHandler) Callback(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if req.SessionID == "" {
		c.JSON(http.StatusOK, h.interceptor.OnExternalReturn(userCtx.UserID, req.URL))
		return
	}

	snap, ok := h.ownedSession(c, userCtx.UserID, req.SessionID)
	if !ok {
		return
	}

	decision, err := h.interceptor.OnNavigation(c.Request.Context(), userCtx.UserID, snap.ID, services.NavigationStarted, req.URL)
	if err != nil {
		respondError(c, h.logger, "callback", err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// ownedSession loads a session and checks it belongs to the caller.
// Sessions of other users are reported as not found.
func (h *PaymentHandler) ownedSession(c *gin.Context, userID, rawID string) (*models.SessionSnapshot, bool) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid session id"})
		return nil, false
	}

	snap, err := h.sessions.Snapshot(c.Request.Context(), id)
	if err == nil && snap.UserID != userID {
		err = services.ErrSessionNotFound
	}
	if err != nil {
		respondError(c, h.logger, "get_session", err)
		return nil, false
	}
	return snap, true
}

func clientMeta(c *gin.Context) services.ClientMeta {
	return services.ClientMeta{
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	}
}
