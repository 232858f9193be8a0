package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process-wide settings. It is built once at startup and
// never mutated afterwards; components receive the values they need at
// construction time.
type Config struct {
	HTTPAddr    string
	DatabaseURL string

	JWTSecret []byte
	JWTIssuer string

	// MFAEncryptionKey is the decoded AES key used to encrypt TOTP secrets
	// at rest. The environment supplies it hex-encoded (64 hex chars for
	// AES-256).
	MFAEncryptionKey []byte

	ResendAPIKey string
	EmailFrom    string
	AppBaseURL   string

	CookieDomain  string
	SecureCookies bool

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	MFATicketTTL         time.Duration
	MFAIssuer            string
}

// Load reads the environment (plus an optional .env file) into a Config.
// A missing signing secret or a malformed encryption key is a configuration
// error: the process must not start with degraded security.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("error load env %s", err)
	}

	cfg := &Config{
		HTTPAddr:             envOr("HTTP_ADDR", ":8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		JWTSecret:            []byte(os.Getenv("JWT_SECRET")),
		JWTIssuer:            os.Getenv("JWT_ISSUER"),
		ResendAPIKey:         os.Getenv("RESEND_API_KEY"),
		EmailFrom:            os.Getenv("EMAIL_FROM"),
		AppBaseURL:           os.Getenv("APP_BASE_URL"),
		CookieDomain:         os.Getenv("COOKIE_DOMAIN"),
		SecureCookies:        os.Getenv("COOKIE_SECURE") != "false",
		AccessTokenTTL:       envDuration("ACCESS_TOKEN_TTL_MINUTES", 30*time.Minute),
		RefreshTokenTTL:      envDuration("REFRESH_TOKEN_TTL_MINUTES", 30*24*time.Hour),
		VerificationTokenTTL: envDuration("VERIFICATION_TOKEN_TTL_MINUTES", 24*time.Hour),
		ResetTokenTTL:        envDuration("RESET_TOKEN_TTL_MINUTES", 30*time.Minute),
		MFATicketTTL:         envDuration("MFA_TICKET_TTL_MINUTES", 5*time.Minute),
		MFAIssuer:            envOr("MFA_ISSUER", "Identra"),
	}

	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	keyHex := os.Getenv("MFA_ENCRYPTION_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.MFAEncryptionKey = key

	return cfg, nil
}

func envOr(name string, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(value)
	if err != nil || minutes <= 0 {
		log.Printf("ignoring invalid %s=%q", name, value)
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}
