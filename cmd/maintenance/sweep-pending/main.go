package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/services"
	"github.com/bookverse/payment-bridge/pkg/jwt"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// sweep-pending asks the storefront to settle a user's stuck gateway deposits
// without going through the running bridge.
func main() {
	var (
		tokenFlag  string
		ledgerURL  string
		minAge     time.Duration
		verbose    bool
		resolveQPS float64
	)
	flag.StringVar(&tokenFlag, "token", "", "user access token (overrides SWEEP_TOKEN)")
	flag.StringVar(&ledgerURL, "ledger-url", "", "storefront API base URL (overrides LEDGER_API_URL)")
	flag.DurationVar(&minAge, "min-age", 30*time.Second, "leave deposits younger than this to the backend")
	flag.Float64Var(&resolveQPS, "rate", 2, "resolve calls per second")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	// Try loading .env from current working directory (optional)
	_ = godotenv.Load()

	token := tokenFlag
	if token == "" {
		token = os.Getenv("SWEEP_TOKEN")
	}
	if token == "" {
		log.Fatal("SWEEP_TOKEN is not set and -token was not provided")
	}

	baseURL := ledgerURL
	if baseURL == "" {
		baseURL = os.Getenv("LEDGER_API_URL")
	}
	if baseURL == "" {
		log.Fatal("LEDGER_API_URL is not set and -ledger-url was not provided")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	claims, err := jwt.NewService(os.Getenv("JWT_SECRET")).ParseAccessToken(token)
	if err != nil {
		log.Fatalf("invalid token: %v", err)
	}
	userID := claims.Subject()

	gateway := os.Getenv("PAYMENT_GATEWAY")
	if gateway == "" {
		gateway = "vnpay"
	}

	loop := services.NewEventLoop(logger)
	loop.Start()
	defer loop.Stop()

	tokens := services.NewTokenStore()
	tokens.Put(userID, token)

	policy := services.DefaultReconcilePolicy()
	policy.MinPendingAge = minAge

	// Payment events are logged only; the audit database belongs to the server
	auditor := services.NewAuditService(nil, logger, true)

	reconciler := services.NewPendingTransactionReconciler(services.ReconcilerDeps{
		Loop:        loop,
		Scheduler:   services.NewLoopScheduler(loop),
		Ledger:      ledger.NewHTTPClient(baseURL, 30*time.Second, logger),
		Views:       services.NewLedgerViews(),
		Credentials: tokens,
		Auditor:     auditor,
		Logger:      logger,
	}, policy, gateway, rate.NewLimiter(rate.Limit(resolveQPS), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Sweeping pending %s deposits of user %s...\n", gateway, userID)
	result, err := reconciler.Sweep(ctx, userID)
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if result.Failed > 0 {
		os.Exit(1)
	}
}
