package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the bridge API on v1. Every route requires auth.
func RegisterRoutes(v1 *gin.RouterGroup, auth gin.HandlerFunc, payments *PaymentHandler, wallet *WalletHandler, orders *OrderHandler) {
	paymentRoutes := v1.Group("/payments")
	paymentRoutes.Use(auth)
	{
		paymentRoutes.POST("/topup", payments.StartTopUp)
		paymentRoutes.POST("/orders/:id", payments.StartOrderPayment)
		paymentRoutes.GET("/sessions/:id", payments.GetSession)
		paymentRoutes.POST("/sessions/:id/navigation", payments.Navigation)
		paymentRoutes.POST("/sessions/:id/dismiss", payments.Dismiss)
		paymentRoutes.POST("/callbacks", payments.Callback)
	}

	walletRoutes := v1.Group("/wallet")
	walletRoutes.Use(auth)
	{
		walletRoutes.GET("", wallet.GetWallet)
		walletRoutes.POST("/refresh", wallet.Refresh)
	}

	orderRoutes := v1.Group("/orders")
	orderRoutes.Use(auth)
	{
		orderRoutes.GET("/:id/cancel-preview", orders.CancelPreview)
		orderRoutes.POST("/:id/cancel", orders.Cancel)
	}
}
