package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		HTTPPort:           8080,
		LogLevel:           "info",
		LogFormat:          "text",
		SignatureTolerance: 5 * time.Minute,
		IdempotencyTTL:     24 * time.Hour,
		IdempotencyMaxBody: 64 * 1024,
		ExtensionCacheTTL:  time.Minute,
		ScheduleCacheTTL:   time.Minute,
		VoiceRateLimit:     20,
		VoiceRateBurst:     40,
		StatusRateLimit:    50,
		StatusRateBurst:    100,
		LockWait:           3 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(*Config) {}, ""},
		{"port too low", func(c *Config) { c.HTTPPort = 0 }, "http-port"},
		{"port too high", func(c *Config) { c.HTTPPort = 70000 }, "http-port"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log-level"},
		{"level case folded", func(c *Config) { c.LogLevel = "DEBUG" }, ""},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log-format"},
		{"negative tolerance", func(c *Config) { c.SignatureTolerance = -time.Second }, "signature-tolerance"},
		{"zero idempotency ttl", func(c *Config) { c.IdempotencyTTL = 0 }, "idempotency-ttl"},
		{"tiny idempotency body", func(c *Config) { c.IdempotencyMaxBody = 512 }, "idempotency-max-body"},
		{"zero voice rate", func(c *Config) { c.VoiceRateLimit = 0 }, "rate limits"},
		{"zero burst", func(c *Config) { c.VoiceRateBurst = 0 }, "bursts"},
		{"zero lock wait", func(c *Config) { c.LockWait = 0 }, "lock-wait"},
		{"bad allowlist", func(c *Config) { c.WebhookAllowList = "not-an-ip" }, "webhook-allowlist"},
		{"bad admin secret", func(c *Config) { c.AdminHookSecret = "zz" }, "admin hook secret"},
		{"short admin secret", func(c *Config) { c.AdminHookSecret = "abcd" }, "32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAllowedNets(t *testing.T) {
	cfg := validConfig()
	cfg.WebhookAllowList = "203.0.113.0/24, 198.51.100.7, 2001:db8::1"

	nets, err := cfg.AllowedNets()
	if err != nil {
		t.Fatalf("AllowedNets: %v", err)
	}
	if len(nets) != 3 {
		t.Fatalf("got %d networks, want 3", len(nets))
	}

	// Bare IPs become single-host networks.
	if ones, bits := nets[1].Mask.Size(); ones != 32 || bits != 32 {
		t.Errorf("bare IPv4 mask: /%d of %d", ones, bits)
	}
	if ones, bits := nets[2].Mask.Size(); ones != 128 || bits != 128 {
		t.Errorf("bare IPv6 mask: /%d of %d", ones, bits)
	}

	cfg.WebhookAllowList = "  "
	nets, err = cfg.AllowedNets()
	if err != nil || nets != nil {
		t.Errorf("blank allowlist: nets=%v err=%v", nets, err)
	}
}

func TestAdminHookSecretBytes(t *testing.T) {
	cfg := validConfig()

	key, err := cfg.AdminHookSecretBytes()
	if err != nil || key != nil {
		t.Errorf("unset secret: key=%v err=%v", key, err)
	}

	cfg.AdminHookSecret = strings.Repeat("ab", 32)
	key, err = cfg.AdminHookSecretBytes()
	if err != nil {
		t.Fatalf("AdminHookSecretBytes: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("got %d bytes, want 32", len(key))
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
