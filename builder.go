package twofactor

import (
	"errors"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/caseflowhq/twofactor/internal/audit"
	"github.com/caseflowhq/twofactor/internal/limiters"
)

// Builder assembles an [Engine]. A Builder is single-use: Build may be called
// once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     CredentialStore
	auditSink AuditSink
	clock     Clock

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the Redis client used for the bundled credential store
// and the failure limiters. Required unless a custom store is provided and
// ProductionMode is off.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore overrides the bundled Redis credential store with a host-provided
// implementation.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithAuditSink sets the destination for audit events. Without one the
// dispatcher delivers to a [NoOpSink].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock injects the verification reference clock. Intended for tests.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil && b.redis == nil {
		return nil, errors.New("redis client or credential store required")
	}
	if cfg.ProductionMode && b.redis == nil {
		// The failure limiters live in Redis; without them rate limiting is
		// silently absent, which ProductionMode forbids.
		return nil, errors.New("ProductionMode requires redis client")
	}

	store := b.store
	if store == nil {
		store = NewRedisCredentialStore(b.redis, "")
	}

	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	engine := &Engine{
		config: cfg,
		store:  store,
		totp:   newTOTPManager(cfg.TOTP, cfg.Issuer),
		clock:  clock,
	}

	engine.verifyLimiter = limiters.NewVerifyLimiter(b.redis, limiters.VerifyConfig{
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		Cooldown:    cfg.RateLimit.Cooldown,
	})
	engine.backupLimiter = limiters.NewBackupCodeLimiter(b.redis, limiters.BackupCodeConfig{
		MaxAttempts: cfg.BackupCodes.MaxAttempts,
		Cooldown:    cfg.BackupCodes.Cooldown,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	if cfg.Proof.Enabled {
		signer, err := newProofSigner(cfg.Proof, cfg.Issuer)
		if err != nil {
			return nil, err
		}
		engine.proof = signer
	}

	b.built = true

	return engine, nil
}
