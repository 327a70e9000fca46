package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookverse/payment-bridge/internal/config"
	"github.com/bookverse/payment-bridge/internal/database"
	"github.com/bookverse/payment-bridge/internal/handlers"
	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/middleware"
	"github.com/bookverse/payment-bridge/internal/services"
	"github.com/bookverse/payment-bridge/pkg/jwt"
	"github.com/bookverse/payment-bridge/pkg/vnpay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting Bookverse payment bridge")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Optional audit database
	var (
		auditStore services.AuditStore
		auditPing  handlers.Pinger
	)
	if cfg.Database.URL != "" {
		logger.Info("Connecting to audit database...")
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to audit database: %v", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = database.EnsureSchema(ctx, db)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to prepare audit schema: %v", err)
		}

		auditStore = database.NewPaymentAuditRepository(db, logger)
		auditPing = db
		logger.Info("Audit database connection established")
	} else {
		logger.Info("AUDIT_DATABASE_URL not set, payment events are logged only")
	}

	auditService := services.NewAuditService(auditStore, logger, cfg.Security.EnableAuditLog)
	auditService.Start()

	// Initialize services
	logger.Info("Initializing services...")
	loop := services.NewEventLoop(logger)
	loop.Start()
	scheduler := services.NewLoopScheduler(loop)
	tokens := services.NewTokenStore()
	views := services.NewLedgerViews()
	ledgerClient := ledger.NewHTTPClient(cfg.Ledger.BaseURL, cfg.Ledger.Timeout, logger)

	policy := services.DefaultReconcilePolicy()
	policy.ConfirmDelay = cfg.Reconcile.ConfirmDelay
	policy.MinPendingAge = cfg.Reconcile.MinPendingAge
	policy.RefreshDelay = cfg.Reconcile.RefreshDelay

	reconciler := services.NewPendingTransactionReconciler(services.ReconcilerDeps{
		Loop:        loop,
		Scheduler:   scheduler,
		Ledger:      ledgerClient,
		Views:       views,
		Credentials: tokens,
		Auditor:     auditService,
		Logger:      logger,
	}, policy, cfg.Gateway.Name, rate.NewLimiter(rate.Limit(cfg.Reconcile.ResolveRatePerSec), cfg.Reconcile.ResolveBurst))

	sessionManager := services.NewPaymentSessionManager(services.PaymentSessionConfig{
		Gateway:        cfg.Gateway.Name,
		LedgerBaseURL:  cfg.Ledger.BaseURL,
		TopUpPath:      cfg.Gateway.TopUpPath,
		OrderPath:      cfg.Gateway.OrderPath,
		MinTopUpAmount: cfg.Gateway.MinTopUpAmount,
		Policy:         policy,
		Credits:        services.DefaultCreditSchedule(),
	}, services.SessionDeps{
		Loop:        loop,
		Scheduler:   scheduler,
		Ledger:      ledgerClient,
		Views:       views,
		Credentials: tokens,
		Sweeper:     reconciler,
		Auditor:     auditService,
		Logger:      logger,
	})

	matcher := vnpay.ReturnMatcher{
		TopUpPath:     cfg.Gateway.TopUpPath,
		OrderPath:     cfg.Gateway.OrderPath,
		ResponseParam: cfg.Gateway.ResponseParam,
	}
	interceptor := services.NewBrowserInterceptor(matcher, sessionManager, logger)

	refundCoordinator := services.NewCancellationRefundCoordinator(
		ledgerClient,
		reconciler,
		auditService,
		cfg.Gateway.Name,
		cfg.Refund.ConversionRate,
		logger,
	)

	// Initialize and start cron service
	cronService := services.NewCronService(reconciler, sessionManager, tokens, services.CronConfig{
		SweepSchedule:      cfg.Reconcile.SweepSchedule,
		ActiveWalletWindow: cfg.Reconcile.ActiveWalletWindow,
		SessionTTL:         cfg.Gateway.SessionTTL,
	}, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("✓ Cron service started - pending deposit sweeps enabled")

	jwtService := jwt.NewService(cfg.Security.JWTSecret)
	if !jwtService.Verifies() {
		logger.Warn("JWT_SECRET not set, bearer tokens are checked against the backend before use")
	}

	logger.Info("Services initialized")

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(sessionManager, interceptor, logger)
	walletHandler := handlers.NewWalletHandler(reconciler, logger)
	orderHandler := handlers.NewOrderHandler(refundCoordinator, auditService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}
	router.Use(middleware.MetricsMiddleware())

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check and metrics endpoints
	router.GET("/health", handlers.HealthCheck(version, auditPing, sessionManager))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	authMiddleware := middleware.AuthMiddleware(jwtService, tokens, ledgerClient, logger)
	handlers.RegisterRoutes(v1, authMiddleware, paymentHandler, walletHandler, orderHandler)

	// Admin cron management routes. Role claims mean nothing without a signing secret.
	if jwtService.Verifies() {
		admin := v1.Group("/admin")
		admin.Use(authMiddleware, middleware.RequireRole("admin"))
		{
			admin.POST("/cron/sweep", func(c *gin.Context) {
				if !cronService.TriggerSweep() {
					c.JSON(http.StatusConflict, gin.H{"message": "Pending deposit sweep already running"})
					return
				}
				c.JSON(http.StatusAccepted, gin.H{"message": "Pending deposit sweep triggered"})
			})

			admin.GET("/cron/status", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.GetJobStatus())
			})
		}
	} else {
		logger.Warn("Admin routes disabled: JWT_SECRET not set")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Ledger.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop cron service
	logger.Info("Stopping cron service...")
	cronService.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Sessions die with the loop; pending deposits are swept again after restart
	loop.Stop()

	logger.Info("Flushing audit events...")
	auditService.Stop()

	logger.Info("Server exited successfully")
}
