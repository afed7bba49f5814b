package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Web2PayApp points at the Web2 payment-request store.
type Web2PayApp struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey,omitempty"`
}

// BridgeConfig mirrors the JSON configuration surface of the bridge. Pointer
// fields distinguish "absent" from an explicit zero value.
type BridgeConfig struct {
	Web2PayApp            Web2PayApp `json:"web2PayApp"`
	AutoProcessEscrow     *bool      `json:"autoProcessEscrow,omitempty"`
	DefaultEscrowDuration *int       `json:"defaultEscrowDuration,omitempty"` // days
}

const (
	DefaultEscrowDurationDays = 30
	defaultRPCURL             = "https://bless-rpc.alt.technology"
)

// AutoProcess defaults to true.
func (b BridgeConfig) AutoProcess() bool {
	if b.AutoProcessEscrow == nil {
		return true
	}
	return *b.AutoProcessEscrow
}

// EscrowDuration defaults to 30 days.
func (b BridgeConfig) EscrowDuration() time.Duration {
	days := DefaultEscrowDurationDays
	if b.DefaultEscrowDuration != nil && *b.DefaultEscrowDuration > 0 {
		days = *b.DefaultEscrowDuration
	}
	return time.Duration(days) * 24 * time.Hour
}

type AppConfig struct {
	Service ServiceConfig
	Chain   ChainConfig
	Storage StorageConfig
	Retry   RetryConfig
	// Bridge is nil when no Web2 store is configured.
	Bridge *BridgeConfig
}

type ServiceConfig struct {
	HTTPPort             int
	LogLevel             string
	WebhookSecret        string
	WebhookClockSkew     time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	ShutdownTimeout      time.Duration
}

type ChainConfig struct {
	// Mode is "sim" (default) or "rpc".
	Mode         string
	RPCURL       string
	RPCTimeout   time.Duration
	ConfirmAfter time.Duration
}

type StorageConfig struct {
	PostgresDSN string
	RedisURL    string
}

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
	RequestTimeout    time.Duration
}

// Load aggregates configuration from .env, the environment and the optional
// bridge JSON file.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		Service: ServiceConfig{
			HTTPPort:             envOrInt("API_HTTP_PORT", 3000),
			LogLevel:             envOr("LOG_LEVEL", "info"),
			WebhookSecret:        envOr("WEBHOOK_SECRET", ""),
			WebhookClockSkew:     time.Duration(envOrInt("WEBHOOK_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			IdempotencyWindow:    time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 86400)) * time.Second,
			IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "lancerpay-idem.json")),
			ShutdownTimeout:      time.Duration(envOrInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Chain: ChainConfig{
			Mode:         strings.ToLower(envOr("CHAIN_MODE", "sim")),
			RPCURL:       envOr("CHAIN_RPC_URL", defaultRPCURL),
			RPCTimeout:   time.Duration(envOrInt("RPC_TIMEOUT_MS", 5000)) * time.Millisecond,
			ConfirmAfter: time.Duration(envOrInt("SIM_CONFIRM_AFTER_MS", 2000)) * time.Millisecond,
		},
		Storage: StorageConfig{
			PostgresDSN: envOr("POSTGRES_DSN", ""),
			RedisURL:    envOr("REDIS_URL", ""),
		},
		Retry: RetryConfig{
			MaxAttempts:       envOrInt("WEB2_RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff:    time.Duration(envOrInt("WEB2_RETRY_INITIAL_BACKOFF_MS", 200)) * time.Millisecond,
			MaxBackoff:        time.Duration(envOrInt("WEB2_RETRY_MAX_BACKOFF_MS", 2000)) * time.Millisecond,
			BackoffMultiplier: envOrInt("WEB2_RETRY_BACKOFF_MULTIPLIER", 2),
			RequestTimeout:    time.Duration(envOrInt("WEB2_REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,
		},
	}

	bridge, err := loadBridge(envOr("BRIDGE_CONFIG_PATH", ""))
	if err != nil {
		return nil, fmt.Errorf("load bridge config: %w", err)
	}
	cfg.Bridge = bridge

	return cfg, nil
}

// loadBridge reads the JSON file when present, then lets WEB2_* variables
// override it. No base URL means no bridge.
func loadBridge(path string) (*BridgeConfig, error) {
	var bc BridgeConfig
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &bc); err != nil {
			return nil, err
		}
	}

	bc.Web2PayApp.BaseURL = envOr("WEB2_BASE_URL", bc.Web2PayApp.BaseURL)
	bc.Web2PayApp.APIKey = envOr("WEB2_API_KEY", bc.Web2PayApp.APIKey)
	if v, ok := envBool("BRIDGE_AUTO_PROCESS_ESCROW"); ok {
		bc.AutoProcessEscrow = &v
	}
	if v := envOrInt("BRIDGE_DEFAULT_ESCROW_DAYS", 0); v > 0 {
		bc.DefaultEscrowDuration = &v
	}

	if bc.Web2PayApp.BaseURL == "" {
		return nil, nil
	}
	bc.Web2PayApp.BaseURL = strings.TrimRight(bc.Web2PayApp.BaseURL, "/")
	return &bc, nil
}

// Validate logs configuration that works but is probably a mistake.
func (c *AppConfig) Validate(log *zap.Logger) {
	if c.Service.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET is not set, inbound payment webhooks are unauthenticated")
	}
	if c.Bridge != nil && c.Bridge.Web2PayApp.APIKey == "" {
		log.Warn("WEB2_API_KEY is not set, Web2 store calls carry no bearer token")
	}
	if c.Storage.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN is not set, wallets and escrows are kept in memory")
	}
	if c.Chain.Mode != "sim" && c.Chain.Mode != "rpc" {
		log.Warn("unknown CHAIN_MODE, falling back to sim", zap.String("mode", c.Chain.Mode))
	}
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string) (bool, bool) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, false
	}
	return parsed, true
}
