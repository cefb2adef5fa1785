package twofactor

import (
	"context"
	"errors"

	"github.com/caseflowhq/twofactor/internal/flows"
)

// Disable tears down the owner's enrollment after re-verifying possession of
// a second factor. Either a current TOTP code or an unconsumed backup code
// authorizes the teardown; the credential record, secret, and remaining
// backup-code hashes are all deleted and the owner returns to not-enrolled.
func (e *Engine) Disable(ctx context.Context, id Identity, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireIdentity(id); err != nil {
		return err
	}

	cred, err := e.loadCredential(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.emitAudit(ctx, auditEventDisableFailed, false, id, ErrNotEnrolled, nil)
			return ErrNotEnrolled
		}
		return err
	}
	if cred.State != StateEnabled {
		e.emitAudit(ctx, auditEventDisableFailed, false, id, ErrNotEnrolled, nil)
		return ErrNotEnrolled
	}

	if _, err := e.verifySubmittedCode(ctx, id, cred, code, verifyOptions{silent: true, allowBackup: true}); err != nil {
		e.emitAudit(ctx, auditEventDisableFailed, false, id, err, func() map[string]string {
			return map[string]string{"code": maskCode(code)}
		})
		return err
	}

	if err := e.store.Delete(ctx, id.OwnerID); err != nil {
		e.emitAudit(ctx, auditEventDisableFailed, false, id, ErrUnavailable, nil)
		return errors.Join(ErrUnavailable, err)
	}

	_ = e.verifyLimiter.Reset(ctx, id.OrgID, id.OwnerID)
	_ = e.backupLimiter.Reset(ctx, id.OrgID, id.OwnerID)

	e.metricInc(MetricDisabled)
	e.emitAudit(ctx, auditEventDisabled, true, id, nil, nil)

	return nil
}

// RegenerateBackupCodes replaces the owner's entire backup-code set and
// returns the new plaintext codes exactly once. Every prior code, consumed or
// not, stops working. Only a current TOTP code authorizes regeneration;
// accepting a backup code here would let a single leaked code renew itself.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, id Identity, totpCode string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := requireIdentity(id); err != nil {
		return nil, err
	}

	cred, err := e.loadCredential(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.emitAudit(ctx, auditEventRegenerateFailed, false, id, ErrNotEnrolled, nil)
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	if cred.State != StateEnabled {
		e.emitAudit(ctx, auditEventRegenerateFailed, false, id, ErrNotEnrolled, nil)
		return nil, ErrNotEnrolled
	}

	if _, err := e.verifySubmittedCode(ctx, id, cred, totpCode, verifyOptions{silent: true}); err != nil {
		e.emitAudit(ctx, auditEventRegenerateFailed, false, id, err, func() map[string]string {
			return map[string]string{"code": maskCode(totpCode)}
		})
		return nil, err
	}

	// The counter consumption above advanced the stored record; reload so the
	// replacement saves against the current version.
	cred, err = e.loadCredential(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.emitAudit(ctx, auditEventRegenerateFailed, false, id, ErrNotEnrolled, nil)
			return nil, ErrNotEnrolled
		}
		return nil, err
	}

	deps := e.backupCodeDeps(cred, false)
	codes, err := flows.RunGenerateBackupCodes(ctx, id.OrgID, id.OwnerID, deps)
	if err != nil {
		e.emitAudit(ctx, auditEventRegenerateFailed, false, id, err, nil)
		return nil, err
	}

	return codes, nil
}
