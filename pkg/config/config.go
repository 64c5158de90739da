// Package config loads gateway configuration from the environment.
//
// All values are read once at startup; the resulting Config is treated as
// read-only for the process lifetime.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// Signed-token settings. The secret is shared by session and
	// delegation tokens; only the TTLs differ.
	JWTSecretKey  string
	JWTAlgorithm  string
	SessionTTL    time.Duration
	DelegationTTL time.Duration
	ServerID      string

	// Operator store DSN (sqlite path or postgres URL).
	DatabaseURL string

	// LLM intent-parsing service.
	GeminiAPIKey string
	GeminiModel  string

	// ATV key material.
	PrivateKeyPath string
	PublicKeyPath  string
	KeyPassphrase  string

	// ACL ledger.
	LedgerPath   string
	LedgerKey    []byte // decoded AEAD key, 32 bytes
	FilterConfig string
	OTLPEndpoint string
}

const (
	defaultSessionTTLMinutes = 10
	defaultDelegationTTL     = 2 * time.Minute
)

// Load reads configuration from environment variables. It fails when a
// required secret is missing or malformed; the server must not start
// with a partial security configuration.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           envOr("PORT", "8080"),
		LogLevel:       envOr("LOG_LEVEL", "INFO"),
		JWTSecretKey:   os.Getenv("JWT_SECRET_KEY"),
		JWTAlgorithm:   envOr("JWT_ALGORITHM", "HS256"),
		ServerID:       envOr("SERVER_ID", "trusted_FinLLM_server_1975"),
		DatabaseURL:    envOr("DATABASE_URL", "file:financial_app.db"),
		GeminiAPIKey:   os.Getenv("GOOGLE_GEMINI_API_KEY"),
		GeminiModel:    envOr("GEMINI_MODEL", "gemini-1.5-flash"),
		PrivateKeyPath: envOr("PRIVATE_KEY_PATH", "keys/private_key.pem"),
		PublicKeyPath:  envOr("PUBLIC_KEY_PATH", "keys/public_key.pem"),
		KeyPassphrase:  os.Getenv("KEY_PASSPHRASE"),
		LedgerPath:     envOr("ACL_DB_PATH", "acl.db"),
		FilterConfig:   envOr("BLOCKED_KEYWORDS_PATH", "blocked_keywords.json"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		DelegationTTL:  defaultDelegationTTL,
	}

	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("config: JWT_SECRET_KEY is required")
	}

	expiry := defaultSessionTTLMinutes
	if v := os.Getenv("JWT_EXPIRY_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: invalid JWT_EXPIRY_MINUTES %q", v)
		}
		expiry = n
	}
	cfg.SessionTTL = time.Duration(expiry) * time.Minute

	if cfg.DelegationTTL >= cfg.SessionTTL {
		return nil, fmt.Errorf("config: delegation TTL %s must be shorter than session TTL %s", cfg.DelegationTTL, cfg.SessionTTL)
	}

	key, err := DecodeLedgerKey(os.Getenv("DB_ENCRYPTION_KEY"))
	if err != nil {
		return nil, err
	}
	cfg.LedgerKey = key

	return cfg, nil
}

// DecodeLedgerKey decodes the urlsafe-base64 AEAD key for the audit
// ledger. The decoded key must be exactly 32 bytes.
func DecodeLedgerKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("config: DB_ENCRYPTION_KEY not set in environment")
	}
	key, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		// Keys generated without padding are also accepted.
		key, err = base64.RawURLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("config: DB_ENCRYPTION_KEY is not urlsafe base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: DB_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
