package twofactor

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Construct it from
// [DefaultConfig] and override fields; pass it to [Builder.WithConfig].
// Config values are treated as immutable after [Builder.Build].
type Config struct {
	// Issuer appears in provisioning URIs and proof-token claims. Required.
	Issuer string

	// ProductionMode enables hardening checks in [Config.Validate]: replay
	// protection and rate limiting become mandatory, and weak backup-code
	// parameters are rejected.
	ProductionMode bool

	TOTP        TOTPConfig
	BackupCodes BackupCodeConfig
	RateLimit   RateLimitConfig
	Proof       ProofConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// TOTPConfig controls code derivation and the drift tolerance window.
type TOTPConfig struct {
	// Digits is the code length. Authenticator apps expect 6.
	Digits int
	// Period is the time-step length in seconds. Authenticator apps expect 30.
	Period int
	// Algorithm is the HMAC hash: SHA1 (the interoperable default), SHA256,
	// or SHA512.
	Algorithm string
	// Skew is the number of adjacent time-steps accepted on either side of
	// the current one. 1 means ±30s with the default period.
	Skew int
	// EnforceReplayProtection accepts each (secret, counter) pair at most
	// once via [CredentialStore.ConsumeCounter].
	EnforceReplayProtection bool
}

// BackupCodeConfig controls recovery-code generation and throttling.
type BackupCodeConfig struct {
	// Count is the number of codes issued per set.
	Count int
	// Length is the number of alphabet characters per code. 16 characters
	// over the 32-character alphabet yield 80 bits of entropy.
	Length int
	// MaxAttempts and Cooldown bound failed backup-code submissions per owner.
	MaxAttempts int
	Cooldown    time.Duration
}

// RateLimitConfig bounds failed verification attempts per owner within a
// fixed window.
type RateLimitConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// ProofConfig controls the optional signed assertion minted after a
// successful verification, consumed by the external session layer.
type ProofConfig struct {
	Enabled bool
	// Secret is the HS256 signing key; at least 32 bytes.
	Secret []byte
	// TTL bounds how long a proof is accepted. Keep it short — a proof only
	// needs to survive the hop back through the route layer.
	TTL time.Duration
	// Audience is an optional aud claim restriction.
	Audience string
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events under backpressure instead of blocking the
	// emitting operation. Dropped counts are reported via
	// [Engine.AuditDropped].
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration the engine is tested against:
// RFC 6238 interoperable TOTP parameters, 10 backup codes of 16 characters,
// replay protection on, and 5 failed attempts per minute before lockout.
func DefaultConfig() Config {
	return Config{
		Issuer:         "",
		ProductionMode: false,
		TOTP: TOTPConfig{
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
		},
		BackupCodes: BackupCodeConfig{
			Count:       10,
			Length:      16,
			MaxAttempts: 5,
			Cooldown:    10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts: 5,
			Cooldown:    time.Minute,
		},
		Proof: ProofConfig{
			Enabled: false,
			TTL:     90 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks internal consistency and, in ProductionMode, enforces the
// hardening floor. Build calls it; it is exported so deployments can lint
// configuration at startup.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("Issuer must be set")
	}

	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("TOTP Digits must be between 6 and 10")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	if c.BackupCodes.Count <= 0 {
		return errors.New("BackupCodes Count must be > 0")
	}
	if c.BackupCodes.Length <= 0 {
		return errors.New("BackupCodes Length must be > 0")
	}
	if c.BackupCodes.MaxAttempts <= 0 || c.BackupCodes.Cooldown <= 0 {
		return errors.New("BackupCodes MaxAttempts and Cooldown must be > 0")
	}

	if c.RateLimit.MaxAttempts <= 0 || c.RateLimit.Cooldown <= 0 {
		return errors.New("RateLimit MaxAttempts and Cooldown must be > 0")
	}

	if c.Proof.Enabled {
		if len(c.Proof.Secret) < 32 {
			return errors.New("Proof Secret must be at least 32 bytes")
		}
		if c.Proof.TTL <= 0 || c.Proof.TTL > 10*time.Minute {
			return errors.New("Proof TTL must be > 0 and at most 10 minutes")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.ProductionMode {
		if !c.TOTP.EnforceReplayProtection {
			return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
		}
		if c.TOTP.Skew > 1 {
			return errors.New("ProductionMode requires TOTP Skew <= 1")
		}
		if c.BackupCodes.Count < 8 {
			return errors.New("ProductionMode requires BackupCodes Count >= 8")
		}
		if c.BackupCodes.Length < 12 {
			return errors.New("ProductionMode requires BackupCodes Length >= 12")
		}
		if !c.Audit.Enabled {
			return errors.New("ProductionMode requires audit to be enabled")
		}
	}

	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if len(cfg.Proof.Secret) > 0 {
		out.Proof.Secret = make([]byte, len(cfg.Proof.Secret))
		copy(out.Proof.Secret, cfg.Proof.Secret)
	}
	return out
}
