package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration for the OPBX routing engine.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir  string
	HTTPPort int

	LogLevel  string
	LogFormat string // "text" or "json"

	// Webhook authentication.
	CXSignatureSecret  string        // process-wide shared secret for X-Cloudonix-Signature HMAC
	SignatureTolerance time.Duration // accepted skew for X-Cloudonix-Timestamp; 0 disables the check
	WebhookAllowList   string        // comma-separated CIDRs/IPs allowed to deliver webhooks; empty allows all

	// Idempotency.
	IdempotencyTTL     time.Duration
	IdempotencyMaxBody int // responses larger than this are recorded metadata-only

	// Config cache.
	ExtensionCacheTTL time.Duration
	ScheduleCacheTTL  time.Duration

	// Rate limits (requests per second, per tenant / per source IP).
	VoiceRateLimit  float64
	VoiceRateBurst  int
	StatusRateLimit float64
	StatusRateBurst int

	// Ring-group lock acquisition bound.
	LockWait time.Duration

	// Optional Redis backing for cache, locks and idempotency state.
	// When empty, in-process implementations are used.
	RedisAddr string

	// Optional PostgreSQL DSN for the CDR archive. Empty disables archiving.
	CDRStoreDSN string

	// Optional outbound status-event forwarding.
	NotifyURL     string
	NotifyAuthKey string

	// Secret for JWTs presented by the administrative layer on the
	// cache-invalidation hook. Hex-encoded 32 bytes.
	AdminHookSecret string
}

// defaults
const (
	defaultDataDir            = "./data"
	defaultHTTPPort           = 8080
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultSignatureTolerance = 5 * time.Minute
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyMaxBody = 64 * 1024
	defaultExtensionCacheTTL  = 60 * time.Second
	defaultScheduleCacheTTL   = 60 * time.Second
	defaultVoiceRateLimit     = 20
	defaultVoiceRateBurst     = 40
	defaultStatusRateLimit    = 50
	defaultStatusRateBurst    = 100
	defaultLockWait           = 3 * time.Second
)

// envPrefix is the prefix for all OPBX environment variables.
const envPrefix = "OPBX_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("opbx", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the configuration database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CXSignatureSecret, "cx-signature-secret", "", "shared secret for verifying X-Cloudonix-Signature webhook signatures")
	fs.DurationVar(&cfg.SignatureTolerance, "signature-tolerance", defaultSignatureTolerance, "accepted skew for the X-Cloudonix-Timestamp header (0 disables)")
	fs.StringVar(&cfg.WebhookAllowList, "webhook-allowlist", "", "comma-separated IPs/CIDRs allowed to deliver webhooks (empty allows all)")
	fs.DurationVar(&cfg.IdempotencyTTL, "idempotency-ttl", defaultIdempotencyTTL, "how long processed webhook deliveries are remembered")
	fs.IntVar(&cfg.IdempotencyMaxBody, "idempotency-max-body", defaultIdempotencyMaxBody, "largest response body cached for replay, in bytes")
	fs.DurationVar(&cfg.ExtensionCacheTTL, "extension-cache-ttl", defaultExtensionCacheTTL, "TTL for cached extension and DID lookups")
	fs.DurationVar(&cfg.ScheduleCacheTTL, "schedule-cache-ttl", defaultScheduleCacheTTL, "TTL for cached business-hours schedule lookups")
	fs.Float64Var(&cfg.VoiceRateLimit, "voice-rate-limit", defaultVoiceRateLimit, "requests per second allowed on the voice webhook, per tenant")
	fs.IntVar(&cfg.VoiceRateBurst, "voice-rate-burst", defaultVoiceRateBurst, "burst size for the voice webhook rate limit")
	fs.Float64Var(&cfg.StatusRateLimit, "status-rate-limit", defaultStatusRateLimit, "requests per second allowed on status/CDR webhooks, per source")
	fs.IntVar(&cfg.StatusRateBurst, "status-rate-burst", defaultStatusRateBurst, "burst size for the status/CDR webhook rate limit")
	fs.DurationVar(&cfg.LockWait, "lock-wait", defaultLockWait, "bounded wait for ring-group and call-id locks")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis address for shared cache/lock/idempotency state (empty uses in-process state)")
	fs.StringVar(&cfg.CDRStoreDSN, "cdr-store-dsn", "", "PostgreSQL DSN for the CDR archive (empty disables archiving)")
	fs.StringVar(&cfg.NotifyURL, "notify-url", "", "URL to forward status events to (empty disables forwarding)")
	fs.StringVar(&cfg.NotifyAuthKey, "notify-auth-key", "", "auth key sent with forwarded status events")
	fs.StringVar(&cfg.AdminHookSecret, "admin-hook-secret", "", "hex-encoded 32-byte secret for admin cache-invalidation JWTs")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides sets flag values from environment variables for flags
// not explicitly provided on the command line. Env var names are the flag
// names upper-cased with dashes replaced by underscores plus the OPBX_ prefix.
func applyEnvOverrides(fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		if err := fs.Set(f.Name, val); err != nil {
			slog.Warn("ignoring invalid environment override",
				"env", envVar,
				"error", err,
			)
		}
	})
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.SignatureTolerance < 0 {
		return fmt.Errorf("signature-tolerance must not be negative, got %s", c.SignatureTolerance)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency-ttl must be positive, got %s", c.IdempotencyTTL)
	}
	if c.IdempotencyMaxBody < 1024 {
		return fmt.Errorf("idempotency-max-body must be at least 1024 bytes, got %d", c.IdempotencyMaxBody)
	}
	if c.VoiceRateLimit <= 0 || c.StatusRateLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.VoiceRateBurst < 1 || c.StatusRateBurst < 1 {
		return fmt.Errorf("rate limit bursts must be at least 1")
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("lock-wait must be positive, got %s", c.LockWait)
	}

	if _, err := c.AllowedNets(); err != nil {
		return err
	}
	if _, err := c.AdminHookSecretBytes(); err != nil {
		return err
	}

	return nil
}

// AllowedNets parses the webhook allowlist into networks. A bare IP is
// treated as a /32 (or /128). Returns nil when the allowlist is empty.
func (c *Config) AllowedNets() ([]*net.IPNet, error) {
	if strings.TrimSpace(c.WebhookAllowList) == "" {
		return nil, nil
	}

	var nets []*net.IPNet
	for _, entry := range strings.Split(c.WebhookAllowList, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("webhook-allowlist entry %q is not an IP or CIDR", entry)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			entry = fmt.Sprintf("%s/%d", entry, bits)
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("webhook-allowlist entry %q: %w", entry, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

// AdminHookSecretBytes returns the decoded 32-byte admin hook JWT secret,
// or nil if no secret is configured (the invalidation hook is then disabled).
func (c *Config) AdminHookSecretBytes() ([]byte, error) {
	if c.AdminHookSecret == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.AdminHookSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding admin hook secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("admin hook secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
