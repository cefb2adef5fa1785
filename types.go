package twofactor

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"time"

	qrc "github.com/skip2/go-qrcode"

	internalaudit "github.com/caseflowhq/twofactor/internal/audit"
	internalmetrics "github.com/caseflowhq/twofactor/internal/metrics"
)

// Identity names the account a credential protects. Both fields come from
// the external session/permission collaborators; the engine never derives
// them from ambient state.
type Identity struct {
	OwnerID string
	OrgID   string
}

// CredentialState is the enrollment lifecycle state of a credential.
type CredentialState uint8

const (
	// StateNotEnrolled means no credential exists for the owner.
	StateNotEnrolled CredentialState = iota
	// StatePendingVerification means a secret has been provisioned but not
	// yet confirmed with a live code.
	StatePendingVerification
	// StateEnabled means the account is 2FA-protected.
	StateEnabled
)

func (s CredentialState) String() string {
	switch s {
	case StateNotEnrolled:
		return "not_enrolled"
	case StatePendingVerification:
		return "pending_verification"
	case StateEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// BackupCodeRecord stores the salted SHA-256 hash of a single backup code
// plus its consumption marker. The plaintext is never persisted.
type BackupCodeRecord struct {
	Hash       [32]byte
	Consumed   bool
	ConsumedAt time.Time
}

// Credential is the one-per-owner 2FA record. It is owned and mutated
// exclusively by the [Engine]; hosts persist it through [CredentialStore].
//
// Invariants: Secret is non-empty iff State != StateNotEnrolled; BackupCodes
// is non-empty iff State == StateEnabled; EnabledAt is the zero time unless
// State == StateEnabled.
type Credential struct {
	RecordID string
	OwnerID  string
	OrgID    string

	Secret    []byte
	State     CredentialState
	EnabledAt time.Time

	// LastUsedCounter is the highest accepted TOTP time-step counter,
	// advanced atomically through [CredentialStore.ConsumeCounter].
	LastUsedCounter int64

	BackupCodes []BackupCodeRecord

	// Version is the optimistic-concurrency token maintained by the store.
	// Zero means the record has never been saved.
	Version uint64
}

// CredentialStore is the durable-store interface hosts must implement to
// integrate the engine with their database. [NewRedisCredentialStore]
// provides a ready-made Redis-backed implementation.
//
// Save must reject a record whose Version no longer matches the stored one
// with [ErrVersionConflict], and must advance rec.Version on success, so that
// racing mutations (for example a disable racing a regenerate) cannot lose
// updates. ConsumeBackupCode and ConsumeCounter must be atomic conditional
// updates: when two requests race, exactly one may succeed.
type CredentialStore interface {
	// Get returns the credential for owner, or [ErrCredentialNotFound].
	Get(ctx context.Context, ownerID string) (*Credential, error)
	// Save creates or replaces the credential under optimistic versioning.
	Save(ctx context.Context, rec *Credential) error
	// Delete removes the credential. Deleting a missing record is not an error.
	Delete(ctx context.Context, ownerID string) error
	// ConsumeBackupCode marks the unconsumed record matching hash as consumed
	// and reports whether this call was the one that consumed it.
	ConsumeBackupCode(ctx context.Context, ownerID string, hash [32]byte) (bool, error)
	// ConsumeCounter accepts a TOTP counter at most once per credential:
	// it returns true and advances the stored watermark only when counter is
	// strictly greater than the last accepted one.
	ConsumeCounter(ctx context.Context, ownerID string, counter int64) (bool, error)
}

// Clock supplies the reference time for code verification. Injectable via
// [Builder.WithClock] so drift windows can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Provision is returned by [Engine.BeginSetup]. The secret appears here
// exactly once; it is never echoed back by any later call.
type Provision struct {
	// Secret is the base32-encoded shared secret for manual entry.
	Secret string
	// URI is the otpauth:// provisioning descriptor consumed by
	// authenticator apps.
	URI string
}

// QRCodePNG renders the provisioning URI as a PNG QR code. A size of 256
// pixels scans reliably on phones; zero or negative sizes default to it.
func (p *Provision) QRCodePNG(size int) ([]byte, error) {
	if p == nil || p.URI == "" {
		return nil, errors.New("empty provisioning uri")
	}
	if size <= 0 {
		size = 256
	}
	return qrc.Encode(p.URI, qrc.Medium, size)
}

// QRCodeDataURI renders the provisioning QR code as a base64 data URI for
// direct embedding in HTML.
func (p *Provision) QRCodeDataURI(size int) (string, error) {
	png, err := p.QRCodePNG(size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// VerifyMethod identifies which second factor satisfied a verification.
type VerifyMethod string

const (
	// MethodTOTP marks a verification satisfied by a time-based code.
	MethodTOTP VerifyMethod = "totp"
	// MethodBackupCode marks a verification that consumed a backup code.
	MethodBackupCode VerifyMethod = "backup_code"
)

// VerifyResult is returned by [Engine.VerifyLogin] on success.
type VerifyResult struct {
	Method VerifyMethod

	// DriftSteps is the time-step offset at which a TOTP code matched:
	// 0 for the current step, -1/+1 for the adjacent ones. Always 0 for
	// backup codes.
	DriftSteps int

	// ProofToken carries the signed verification assertion when
	// [ProofConfig.Enabled] is set; empty otherwise.
	ProofToken string
}

// EnrollmentStatus is the safe introspection view of a credential. It
// intentionally excludes the secret and all hash material.
type EnrollmentStatus struct {
	State                CredentialState
	EnabledAt            time.Time
	BackupCodesRemaining int
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events, one per
// line, to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricSetupRequested        = internalmetrics.MetricSetupRequested
	MetricSetupConfirmed        = internalmetrics.MetricSetupConfirmed
	MetricSetupFailed           = internalmetrics.MetricSetupFailed
	MetricVerifySuccess         = internalmetrics.MetricVerifySuccess
	MetricVerifyFailure         = internalmetrics.MetricVerifyFailure
	MetricReplayDetected        = internalmetrics.MetricReplayDetected
	MetricRateLimitHit          = internalmetrics.MetricRateLimitHit
	MetricBackupCodeUsed        = internalmetrics.MetricBackupCodeUsed
	MetricBackupCodeFailed      = internalmetrics.MetricBackupCodeFailed
	MetricBackupCodeRegenerated = internalmetrics.MetricBackupCodeRegenerated
	MetricDisabled              = internalmetrics.MetricDisabled
)

// Metrics holds the engine's atomic counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{Enabled: cfg.Enabled})
}
