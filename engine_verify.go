package twofactor

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/caseflowhq/twofactor/internal/flows"
	"github.com/caseflowhq/twofactor/internal/limiters"
)

type verifyOptions struct {
	// silent suppresses the per-verification audit events so the calling
	// operation can emit its own single event instead.
	silent bool
	// allowBackup permits backup-code shaped inputs. Regeneration turns this
	// off: spending a recovery code to mint more recovery codes would let one
	// leaked code renew itself forever.
	allowBackup bool
}

// VerifyLogin checks a second-factor code at sign-in. It accepts either a
// TOTP code within the drift window or an unconsumed backup code; the shape
// of the input selects the path before any secret material is touched.
//
// Wrong, replayed, and consumed codes all surface as [ErrCodeInvalid] so the
// response cannot be used as an oracle. Replays are still distinguished in
// audit and metrics.
func (e *Engine) VerifyLogin(ctx context.Context, id Identity, code string) (*VerifyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireIdentity(id); err != nil {
		return nil, err
	}

	cred, err := e.loadCredential(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(MetricVerifyFailure)
			e.emitAudit(ctx, auditEventVerifyFailure, false, id, ErrNotEnrolled, nil)
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	if cred.State != StateEnabled {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditEventVerifyFailure, false, id, ErrNotEnrolled, nil)
		return nil, ErrNotEnrolled
	}

	result, err := e.verifySubmittedCode(ctx, id, cred, code, verifyOptions{allowBackup: true})
	if err != nil {
		return nil, err
	}

	if e.proof != nil {
		token, err := e.proof.Mint(id, result.Method, e.now())
		if err != nil {
			return nil, errors.Join(ErrUnavailable, err)
		}
		result.ProofToken = token
	}

	return result, nil
}

// verifySubmittedCode runs the shared verification pipeline: limiter gate,
// shape dispatch, then the TOTP or backup-code path. The caller has already
// established that cred belongs to id and is in a verifiable state.
func (e *Engine) verifySubmittedCode(ctx context.Context, id Identity, cred *Credential, code string, opts verifyOptions) (*VerifyResult, error) {
	if err := e.verifyLimiter.Check(ctx, id.OrgID, id.OwnerID); err != nil {
		if errors.Is(err, limiters.ErrVerifyRateLimited) {
			e.metricInc(MetricRateLimitHit)
			if !opts.silent {
				e.emitAudit(ctx, auditEventRateLimitTriggered, false, id, ErrRateLimited, nil)
			}
			return nil, ErrRateLimited
		}
		return nil, errors.Join(ErrUnavailable, err)
	}

	trimmed := strings.TrimSpace(code)
	canonical := flows.CanonicalizeBackupCode(trimmed)

	switch {
	case len(trimmed) == e.config.TOTP.Digits && isNumericString(trimmed):
		return e.verifyTOTP(ctx, id, cred, trimmed, opts)
	case flows.IsCanonicalBackupCode(canonical, e.config.BackupCodes.Length):
		if !opts.allowBackup {
			return nil, e.verifyFailed(ctx, id, trimmed, opts, ErrCodeInvalid)
		}
		return e.verifyBackupCode(ctx, id, trimmed, opts)
	default:
		e.metricInc(MetricVerifyFailure)
		_ = e.verifyLimiter.RecordFailure(ctx, id.OrgID, id.OwnerID)
		if !opts.silent {
			e.emitAudit(ctx, auditEventVerifyFailure, false, id, ErrMalformedCode, func() map[string]string {
				return map[string]string{"code": maskCode(trimmed)}
			})
		}
		return nil, ErrMalformedCode
	}
}

func (e *Engine) verifyTOTP(ctx context.Context, id Identity, cred *Credential, code string, opts verifyOptions) (*VerifyResult, error) {
	ok, counter, offset, err := e.totp.VerifyCode(cred.Secret, code, e.now())
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	if !ok {
		return nil, e.verifyFailed(ctx, id, code, opts, ErrCodeInvalid)
	}

	if e.config.TOTP.EnforceReplayProtection {
		accepted, err := e.store.ConsumeCounter(ctx, id.OwnerID, counter)
		if err != nil {
			return nil, errors.Join(ErrUnavailable, err)
		}
		if !accepted {
			e.metricInc(MetricReplayDetected)
			e.metricInc(MetricVerifyFailure)
			_ = e.verifyLimiter.RecordFailure(ctx, id.OrgID, id.OwnerID)
			if !opts.silent {
				e.emitAudit(ctx, auditEventReplayDetected, false, id, ErrCodeReplayed, func() map[string]string {
					return map[string]string{"code": maskCode(code)}
				})
			}
			// Replays fold into the generic failure externally.
			return nil, ErrCodeInvalid
		}
	}

	_ = e.verifyLimiter.Reset(ctx, id.OrgID, id.OwnerID)
	e.metricInc(MetricVerifySuccess)
	if !opts.silent {
		e.emitAudit(ctx, auditEventVerifySuccess, true, id, nil, func() map[string]string {
			return map[string]string{
				"method":      string(MethodTOTP),
				"drift_steps": strconv.Itoa(offset),
			}
		})
	}

	return &VerifyResult{Method: MethodTOTP, DriftSteps: offset}, nil
}

func (e *Engine) verifyBackupCode(ctx context.Context, id Identity, code string, opts verifyOptions) (*VerifyResult, error) {
	deps := e.backupCodeDeps(nil, opts.silent)
	if err := flows.RunConsumeBackupCode(ctx, id.OrgID, id.OwnerID, code, deps); err != nil {
		switch {
		case errors.Is(err, ErrCodeInvalid):
			e.metricInc(MetricVerifyFailure)
			_ = e.verifyLimiter.RecordFailure(ctx, id.OrgID, id.OwnerID)
		case errors.Is(err, ErrRateLimited):
			e.metricInc(MetricRateLimitHit)
		}
		return nil, err
	}

	_ = e.verifyLimiter.Reset(ctx, id.OrgID, id.OwnerID)
	e.metricInc(MetricVerifySuccess)

	return &VerifyResult{Method: MethodBackupCode}, nil
}

func (e *Engine) verifyFailed(ctx context.Context, id Identity, code string, opts verifyOptions, cause error) error {
	e.metricInc(MetricVerifyFailure)
	_ = e.verifyLimiter.RecordFailure(ctx, id.OrgID, id.OwnerID)
	if !opts.silent {
		e.emitAudit(ctx, auditEventVerifyFailure, false, id, cause, func() map[string]string {
			return map[string]string{"code": maskCode(code)}
		})
	}
	return cause
}
