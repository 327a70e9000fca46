package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bookverse/payment-bridge/internal/config"
	"github.com/bookverse/payment-bridge/internal/database"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// audit-trail prints stored payment events, for support cases where a user
// reports a missing or doubled credit.
func main() {
	var (
		dbURLFlag string
		sessionID string
		ref       string
		eventType string
		hours     int
		limit     int
	)
	flag.StringVar(&dbURLFlag, "database-url", "", "audit database connection string (overrides AUDIT_DATABASE_URL)")
	flag.StringVar(&sessionID, "session", "", "payment session id")
	flag.StringVar(&ref, "ref", "", "merchant transaction reference")
	flag.StringVar(&eventType, "event", "", "event type, e.g. orphan_callback")
	flag.IntVar(&hours, "hours", 24, "look-back window for -event")
	flag.IntVar(&limit, "limit", 50, "maximum rows for -event")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := dbURLFlag
	if dbURL == "" {
		dbURL = os.Getenv("AUDIT_DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("AUDIT_DATABASE_URL is not set and -database-url was not provided")
	}

	driver := os.Getenv("AUDIT_DATABASE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	// Build minimal database config without loading full app config
	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		Driver:             driver,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	logger := logrus.New()
	repo := database.NewPaymentAuditRepository(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var audits []*models.PaymentAudit
	switch {
	case sessionID != "":
		id, err := uuid.Parse(sessionID)
		if err != nil {
			log.Fatalf("invalid session id: %v", err)
		}
		audits, err = repo.GetBySession(ctx, id)
		if err != nil {
			log.Fatalf("query failed: %v", err)
		}
	case ref != "":
		audits, err = repo.GetByTransactionRef(ctx, ref)
		if err != nil {
			log.Fatalf("query failed: %v", err)
		}
		resolved, err := repo.CheckDuplicate(ctx, ref, models.PaymentEventCallbackResolved)
		if err != nil {
			log.Fatalf("query failed: %v", err)
		}
		if resolved {
			fmt.Printf("Transaction %s was already resolved by the backend\n", ref)
		}
	case eventType != "":
		audits, err = repo.GetRecentByEventType(ctx, models.PaymentEventType(eventType), hours, limit)
		if err != nil {
			log.Fatalf("query failed: %v", err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	fmt.Printf("%d event(s)\n", len(audits))
	for _, a := range audits {
		fmt.Printf("%s  %-28s %-16s user=%s ref=%s coins=%s code=%s err=%s\n",
			a.CreatedAt.Format(time.RFC3339),
			a.EventType,
			a.EventSource,
			deref(a.UserID),
			deref(a.TransactionRef),
			derefInt(a.CoinAmount),
			deref(a.ResponseCode),
			deref(a.ErrorMessage),
		)
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func derefInt(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}
