package twofactor

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/caseflowhq/twofactor/internal/flows"
	"github.com/caseflowhq/twofactor/internal/limiters"
)

// BeginSetup provisions a fresh shared secret for the owner and returns it
// exactly once, base32-encoded plus wrapped in an otpauth:// URI. The
// credential enters pending state; it protects nothing until [ConfirmSetup]
// proves the authenticator was configured. Calling BeginSetup again while a
// setup is pending replaces the secret.
func (e *Engine) BeginSetup(ctx context.Context, id Identity) (*Provision, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireIdentity(id); err != nil {
		return nil, err
	}

	existing, err := e.loadCredential(ctx, id)
	if err != nil && !errors.Is(err, ErrCredentialNotFound) {
		return nil, err
	}
	if existing != nil && existing.State == StateEnabled {
		e.metricInc(MetricSetupFailed)
		e.emitAudit(ctx, auditEventSetupFailed, false, id, ErrAlreadyEnrolled, nil)
		return nil, ErrAlreadyEnrolled
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	cred := &Credential{
		RecordID: uuid.NewString(),
		OwnerID:  id.OwnerID,
		OrgID:    id.OrgID,
		Secret:   raw,
		State:    StatePendingVerification,
	}
	if existing != nil {
		// Restarting a pending setup replaces the secret in place.
		cred.RecordID = existing.RecordID
		cred.Version = existing.Version
	}

	if err := e.saveCredential(ctx, cred); err != nil {
		e.metricInc(MetricSetupFailed)
		e.emitAudit(ctx, auditEventSetupFailed, false, id, err, nil)
		return nil, err
	}

	e.metricInc(MetricSetupRequested)
	e.emitAudit(ctx, auditEventSetupRequested, true, id, nil, nil)

	return &Provision{
		Secret: encoded,
		URI:    e.totp.ProvisionURI(encoded, id.OwnerID),
	}, nil
}

// ConfirmSetup completes enrollment: a current code from the authenticator
// proves the secret landed, the credential flips to enabled, and the freshly
// generated backup codes are returned in plaintext exactly once. Only their
// salted hashes persist.
func (e *Engine) ConfirmSetup(ctx context.Context, id Identity, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireIdentity(id); err != nil {
		return nil, err
	}

	cred, err := e.loadCredential(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(MetricSetupFailed)
			e.emitAudit(ctx, auditEventSetupFailed, false, id, ErrSetupNotPending, nil)
			return nil, ErrSetupNotPending
		}
		return nil, err
	}
	if cred.State == StateEnabled {
		e.metricInc(MetricSetupFailed)
		e.emitAudit(ctx, auditEventSetupFailed, false, id, ErrAlreadyEnrolled, nil)
		return nil, ErrAlreadyEnrolled
	}

	if err := e.verifyLimiter.Check(ctx, id.OrgID, id.OwnerID); err != nil {
		if errors.Is(err, limiters.ErrVerifyRateLimited) {
			e.metricInc(MetricRateLimitHit)
			e.emitAudit(ctx, auditEventRateLimitTriggered, false, id, ErrRateLimited, nil)
			return nil, ErrRateLimited
		}
		return nil, errors.Join(ErrUnavailable, err)
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != e.config.TOTP.Digits || !isNumericString(trimmed) {
		_ = e.verifyLimiter.RecordFailure(ctx, id.OrgID, id.OwnerID)
		e.metricInc(MetricSetupFailed)
		e.emitAudit(ctx, auditEventSetupFailed, false, id, ErrMalformedCode, func() map[string]string {
			return map[string]string{"code": maskCode(trimmed)}
		})
		return nil, ErrMalformedCode
	}

	ok, counter, _, err := e.totp.VerifyCode(cred.Secret, trimmed, e.now())
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	if !ok {
		_ = e.verifyLimiter.RecordFailure(ctx, id.OrgID, id.OwnerID)
		e.metricInc(MetricSetupFailed)
		e.emitAudit(ctx, auditEventSetupFailed, false, id, ErrCodeInvalid, func() map[string]string {
			return map[string]string{"code": maskCode(trimmed)}
		})
		return nil, ErrCodeInvalid
	}

	cred.State = StateEnabled
	cred.EnabledAt = e.now()
	if e.config.TOTP.EnforceReplayProtection {
		// The confirmation code itself must not be replayable at login.
		cred.LastUsedCounter = counter
	}

	deps := e.backupCodeDeps(cred, true)
	codes, err := flows.RunGenerateBackupCodes(ctx, id.OrgID, id.OwnerID, deps)
	if err != nil {
		e.metricInc(MetricSetupFailed)
		e.emitAudit(ctx, auditEventSetupFailed, false, id, err, nil)
		return nil, err
	}

	_ = e.verifyLimiter.Reset(ctx, id.OrgID, id.OwnerID)
	e.metricInc(MetricSetupConfirmed)
	e.emitAudit(ctx, auditEventSetupConfirmed, true, id, nil, func() map[string]string {
		return map[string]string{"backup_codes": strconv.Itoa(len(codes))}
	})

	return codes, nil
}
