// Package config loads and validates app config from env and an optional
// .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// ListenAddr is the address the HTTP bridge listens on (e.g. :8080).
	ListenAddr string `mapstructure:"LISTEN_ADDR"`
	// StorageRoot is the directory holding identity records, the username
	// index, and the revocation snapshot. The directory is the unit of backup.
	StorageRoot string `mapstructure:"STORAGE_ROOT"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or a path to one.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or a path to one.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "720h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// AuthAttempts is the failed-login budget per username per window.
	AuthAttempts int `mapstructure:"AUTH_ATTEMPTS"`
	// AuthWindow is the sliding window for failed logins (e.g. "15m").
	AuthWindow string `mapstructure:"AUTH_WINDOW"`
	// AuthLockout is the lockout after the budget is exhausted (e.g. "30m").
	AuthLockout string `mapstructure:"AUTH_LOCKOUT"`
	// OpsPerMinute is the sustained per-identity operation budget.
	OpsPerMinute int `mapstructure:"OPS_PER_MINUTE"`
	// OpsBurst is the burst allowance above the sustained budget.
	OpsBurst int `mapstructure:"OPS_BURST"`
	// MaxConnsPerIdentity is the concurrent-connection ceiling; 0 disables it.
	MaxConnsPerIdentity int `mapstructure:"MAX_CONNS_PER_IDENTITY"`
	// ConnBreachAction is "reject" or "evict_oldest".
	ConnBreachAction string `mapstructure:"CONN_BREACH_ACTION"`

	// RetentionWindow is how long an idle identity with no sessions survives
	// before the sweep deletes it (e.g. "720h"); empty or "0" disables.
	RetentionWindow string `mapstructure:"RETENTION_WINDOW"`
	// OrphanGrace is how long orphaned sessions run before force-end.
	OrphanGrace string `mapstructure:"ORPHAN_GRACE"`
	// SweepInterval is how often the lifecycle sweep runs.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// ExpiryWarningLead is how far before access-token expiry the warning is pushed.
	ExpiryWarningLead string `mapstructure:"EXPIRY_WARNING_LEAD"`
	// SecretRotationInterval: a signing key file older than this logs a
	// rotation warning at startup (e.g. "2160h"); empty disables the check.
	SecretRotationInterval string `mapstructure:"SECRET_ROTATION_INTERVAL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("STORAGE_ROOT", "./data")
	v.SetDefault("JWT_ISSUER", "bcp-auth")
	v.SetDefault("JWT_AUDIENCE", "bcp-api")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("AUTH_ATTEMPTS", 5)
	v.SetDefault("AUTH_WINDOW", "15m")
	v.SetDefault("AUTH_LOCKOUT", "30m")
	v.SetDefault("OPS_PER_MINUTE", 60)
	v.SetDefault("OPS_BURST", 20)
	v.SetDefault("MAX_CONNS_PER_IDENTITY", 5)
	v.SetDefault("CONN_BREACH_ACTION", "reject")
	v.SetDefault("RETENTION_WINDOW", "720h") // 30d
	v.SetDefault("ORPHAN_GRACE", "30m")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("EXPIRY_WARNING_LEAD", "5m")
	v.SetDefault("SECRET_ROTATION_INTERVAL", "2160h") // 90d
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.ListenAddr == "" {
		return nil, errors.New("config: LISTEN_ADDR must be set")
	}
	if cfg.StorageRoot == "" {
		return nil, errors.New("config: STORAGE_ROOT must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.ConnBreachAction != "reject" && cfg.ConnBreachAction != "evict_oldest" {
		return nil, errors.New(`config: CONN_BREACH_ACTION must be "reject" or "evict_oldest"`)
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return duration(c.JWTAccessTTL, time.Hour)
}

// RefreshTTL parses JWTRefreshTTL. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return duration(c.JWTRefreshTTL, 720*time.Hour)
}

// AuthWindowDuration parses AuthWindow. Returns 15m if unset or invalid.
func (c *Config) AuthWindowDuration() time.Duration {
	return duration(c.AuthWindow, 15*time.Minute)
}

// AuthLockoutDuration parses AuthLockout. Returns 30m if unset or invalid.
func (c *Config) AuthLockoutDuration() time.Duration {
	return duration(c.AuthLockout, 30*time.Minute)
}

// RetentionDuration parses RetentionWindow. Returns 0 (disabled) if unset or
// invalid.
func (c *Config) RetentionDuration() time.Duration {
	return duration(c.RetentionWindow, 0)
}

// OrphanGraceDuration parses OrphanGrace. Returns 30m if unset or invalid.
func (c *Config) OrphanGraceDuration() time.Duration {
	return duration(c.OrphanGrace, 30*time.Minute)
}

// SweepIntervalDuration parses SweepInterval. Returns 5m if unset or invalid.
func (c *Config) SweepIntervalDuration() time.Duration {
	return duration(c.SweepInterval, 5*time.Minute)
}

// ExpiryWarningLeadDuration parses ExpiryWarningLead. Returns 5m if unset or
// invalid.
func (c *Config) ExpiryWarningLeadDuration() time.Duration {
	return duration(c.ExpiryWarningLead, 5*time.Minute)
}

// RotationInterval parses SecretRotationInterval. Returns 0 (disabled) if
// unset or invalid.
func (c *Config) RotationInterval() time.Duration {
	return duration(c.SecretRotationInterval, 0)
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
