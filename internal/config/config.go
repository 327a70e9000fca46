package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the payment bridge
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storefront backend (ledger) configuration
	Ledger LedgerConfig

	// Redirect payment gateway configuration
	Gateway GatewayConfig

	// Reconciliation timing policy
	Reconcile ReconcileConfig

	// Refund preview configuration
	Refund RefundConfig

	// Optional audit database
	Database DatabaseConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// LedgerConfig points at the storefront backend
type LedgerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// GatewayConfig describes the redirect payment gateway
type GatewayConfig struct {
	Name           string        // "vnpay"
	TopUpPath      string        // return path of coin top-ups, e.g. "coins/vnpay-return"
	OrderPath      string        // return path of order payments, e.g. "orders/vnpay-return"
	ResponseParam  string        // query parameter carrying the response code
	MinTopUpAmount int64         // smallest top-up accepted, in currency units
	SessionTTL     time.Duration // open sessions older than this are expired
}

// ReconcileConfig holds the timing policy of reconciliation
type ReconcileConfig struct {
	ConfirmDelay       time.Duration // delay before the post-top-up balance read
	MinPendingAge      time.Duration // pending deposits younger than this are left to the backend
	RefreshDelay       time.Duration // delay before re-reading the wallet after a resolve
	SweepSchedule      string        // cron spec of the periodic sweep
	ActiveWalletWindow time.Duration // wallets seen within this window are swept periodically
	ResolveRatePerSec  float64       // resolve calls per second within a sweep
	ResolveBurst       int
}

// RefundConfig holds refund preview settings
type RefundConfig struct {
	ConversionRate int64 // currency units per coin
}

// DatabaseConfig holds audit database configuration. Empty URL disables it.
type DatabaseConfig struct {
	URL                string
	Driver             string // "postgres" (lib/pq) or "pgx"
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRequestLog bool
	EnableAuditLog   bool
	JWTSecret        string // verifies bearer tokens when set; otherwise each new token is checked against the backend
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	gateway := strings.ToLower(getEnv("PAYMENT_GATEWAY", "vnpay"))

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8686"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Ledger: LedgerConfig{
			BaseURL: strings.TrimRight(getEnv("LEDGER_API_URL", ""), "/"),
			Timeout: time.Duration(getEnvAsInt("LEDGER_API_TIMEOUT", 30)) * time.Second,
		},
		Gateway: GatewayConfig{
			Name:           gateway,
			TopUpPath:      getEnv("GATEWAY_TOPUP_RETURN_PATH", "coins/"+gateway+"-return"),
			OrderPath:      getEnv("GATEWAY_ORDER_RETURN_PATH", "orders/"+gateway+"-return"),
			ResponseParam:  getEnv("GATEWAY_RESPONSE_PARAM", "vnp_ResponseCode"),
			MinTopUpAmount: int64(getEnvAsInt("MIN_TOPUP_AMOUNT", 10000)),
			SessionTTL:     getEnvAsDuration("PAYMENT_SESSION_TTL", time.Hour),
		},
		Reconcile: ReconcileConfig{
			ConfirmDelay:       getEnvAsDuration("RECONCILE_CONFIRM_DELAY", 2*time.Second),
			MinPendingAge:      getEnvAsDuration("RECONCILE_MIN_PENDING_AGE", 30*time.Second),
			RefreshDelay:       getEnvAsDuration("RECONCILE_REFRESH_DELAY", 1500*time.Millisecond),
			SweepSchedule:      getEnv("RECONCILE_SWEEP_SCHEDULE", "@every 5m"),
			ActiveWalletWindow: getEnvAsDuration("RECONCILE_ACTIVE_WALLET_WINDOW", 24*time.Hour),
			ResolveRatePerSec:  getEnvAsFloat("RECONCILE_RESOLVE_RATE", 5),
			ResolveBurst:       getEnvAsInt("RECONCILE_RESOLVE_BURST", 3),
		},
		Refund: RefundConfig{
			ConversionRate: int64(getEnvAsInt("COIN_CONVERSION_RATE", 1000)),
		},
		Database: DatabaseConfig{
			URL:                getEnv("AUDIT_DATABASE_URL", ""),
			Driver:             getEnv("AUDIT_DATABASE_DRIVER", "postgres"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 5),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 2),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
			EnableAuditLog:   getEnvAsBool("ENABLE_AUDIT_LOGGING", true),
			JWTSecret:        getEnv("JWT_SECRET", ""),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Ledger.BaseURL == "" {
		return fmt.Errorf("LEDGER_API_URL is required")
	}
	if u, err := url.Parse(c.Ledger.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("LEDGER_API_URL must be an absolute URL, got %q", c.Ledger.BaseURL)
	}

	if c.Gateway.Name == "" {
		return fmt.Errorf("PAYMENT_GATEWAY is required")
	}

	if c.Gateway.MinTopUpAmount < 0 {
		return fmt.Errorf("MIN_TOPUP_AMOUNT must not be negative")
	}

	if c.Refund.ConversionRate <= 0 {
		return fmt.Errorf("COIN_CONVERSION_RATE must be positive")
	}

	if c.Reconcile.ConfirmDelay < 0 || c.Reconcile.MinPendingAge < 0 || c.Reconcile.RefreshDelay < 0 {
		return fmt.Errorf("reconcile delays must not be negative")
	}

	if c.Server.Environment == "production" && c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}

	if c.Database.URL != "" && c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid AUDIT_DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("2s", "500ms") or plain milliseconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
