package twofactor

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Issuer = "caseflow"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing issuer", func(c *Config) { c.Issuer = " " }, "Issuer"},
		{"bad digits", func(c *Config) { c.TOTP.Digits = 4 }, "Digits"},
		{"bad period", func(c *Config) { c.TOTP.Period = 0 }, "Period"},
		{"bad skew", func(c *Config) { c.TOTP.Skew = 3 }, "Skew"},
		{"bad algorithm", func(c *Config) { c.TOTP.Algorithm = "MD5" }, "Algorithm"},
		{"no backup codes", func(c *Config) { c.BackupCodes.Count = 0 }, "Count"},
		{"zero-length codes", func(c *Config) { c.BackupCodes.Length = 0 }, "Length"},
		{"no backup limiter", func(c *Config) { c.BackupCodes.MaxAttempts = 0 }, "MaxAttempts"},
		{"no verify limiter", func(c *Config) { c.RateLimit.Cooldown = 0 }, "MaxAttempts and Cooldown"},
		{"short proof secret", func(c *Config) {
			c.Proof.Enabled = true
			c.Proof.Secret = []byte("short")
		}, "Secret"},
		{"huge proof ttl", func(c *Config) {
			c.Proof.Enabled = true
			c.Proof.Secret = bytes.Repeat([]byte("k"), 32)
			c.Proof.TTL = time.Hour
		}, "TTL"},
		{"audit without buffer", func(c *Config) { c.Audit.BufferSize = 0 }, "BufferSize"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Issuer = "caseflow"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestConfigProductionModeFloor(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"replay protection off", func(c *Config) { c.TOTP.EnforceReplayProtection = false }},
		{"wide skew", func(c *Config) { c.TOTP.Skew = 2 }},
		{"few backup codes", func(c *Config) { c.BackupCodes.Count = 4 }},
		{"short backup codes", func(c *Config) { c.BackupCodes.Length = 8 }},
		{"audit off", func(c *Config) { c.Audit.Enabled = false }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Issuer = "caseflow"
			cfg.ProductionMode = true
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected production-mode rejection")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Issuer = "caseflow"
	cfg.ProductionMode = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("hardened defaults must validate in production mode: %v", err)
	}
}

func TestBuilderRequiresBackend(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected build failure without redis or store")
	}
}

func TestBuilderRequiresIssuer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := DefaultConfig()
	if _, err := New().WithConfig(cfg).WithRedis(client).Build(); err == nil {
		t.Fatal("expected build failure without issuer")
	}
}

func TestBuilderProductionModeRequiresRedis(t *testing.T) {
	cfg := testConfig()
	cfg.ProductionMode = true

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// A store alone is not enough in production mode: the limiters need Redis.
	store := NewRedisCredentialStore(client, "")
	if _, err := New().WithConfig(cfg).WithStore(store).Build(); err == nil {
		t.Fatal("expected build failure in production mode without redis")
	}
	engine, err := New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		t.Fatalf("expected build with redis, got %v", err)
	}
	engine.Close()
}

func TestBuilderSingleUse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := New().WithConfig(testConfig()).WithRedis(client)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build on the same builder to fail")
	}
}

func TestSecurityReportReflectsConfig(t *testing.T) {
	engine, _, _, done := newTestEngine(t, func(cfg *Config) {
		cfg.ProductionMode = true
	})
	defer done()

	report := engine.SecurityReport()
	if !report.ProductionMode {
		t.Fatal("expected production mode in report")
	}
	if report.TOTP.Algorithm != "SHA1" {
		t.Fatalf("expected SHA1 in report, got %s", report.TOTP.Algorithm)
	}
	if report.BackupCodes.EntropyBits != engine.config.BackupCodes.Length*5 {
		t.Fatalf("unexpected entropy bits %d", report.BackupCodes.EntropyBits)
	}
	if !report.RateLimitingActive {
		t.Fatal("expected rate limiting active")
	}
	if !report.AuditEnabled {
		t.Fatal("expected audit enabled in report")
	}
}
