package twofactor

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	auditEventSetupRequested         = "setup_requested"
	auditEventSetupConfirmed         = "setup_confirmed"
	auditEventSetupFailed            = "setup_failed"
	auditEventVerifySuccess          = "verify_success"
	auditEventVerifyFailure          = "verify_failure"
	auditEventReplayDetected         = "verify_replay_detected"
	auditEventDisabled               = "twofa_disabled"
	auditEventDisableFailed          = "twofa_disable_failed"
	auditEventBackupCodesRegenerated = "backup_codes_regenerated"
	auditEventRegenerateFailed       = "backup_codes_regenerate_failed"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventBackupCodeFailed       = "backup_code_failed"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
)

// AuditErrorCode is the stable machine-readable error label carried in
// [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrIdentityRequired AuditErrorCode = "identity_required"
	auditErrAlreadyEnrolled  AuditErrorCode = "already_enrolled"
	auditErrNotEnrolled      AuditErrorCode = "not_enrolled"
	auditErrSetupNotPending  AuditErrorCode = "setup_not_pending"
	auditErrMalformedCode    AuditErrorCode = "malformed_code"
	auditErrInvalidCode      AuditErrorCode = "invalid_code"
	auditErrReplay           AuditErrorCode = "code_replayed"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrConflict         AuditErrorCode = "concurrent_modification"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	id Identity,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventID:   uuid.NewString(),
		EventType: eventType,
		OwnerID:   id.OwnerID,
		OrgID:     id.OrgID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrIdentityRequired):
		return auditErrIdentityRequired
	case errors.Is(err, ErrAlreadyEnrolled):
		return auditErrAlreadyEnrolled
	case errors.Is(err, ErrNotEnrolled),
		errors.Is(err, ErrCredentialNotFound):
		return auditErrNotEnrolled
	case errors.Is(err, ErrSetupNotPending):
		return auditErrSetupNotPending
	case errors.Is(err, ErrMalformedCode):
		return auditErrMalformedCode
	case errors.Is(err, ErrCodeReplayed):
		return auditErrReplay
	case errors.Is(err, ErrCodeInvalid):
		return auditErrInvalidCode
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrVersionConflict):
		return auditErrConflict
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// maskCode keeps the first two characters of a submitted code for abuse
// triage and blanks the rest. Short inputs are fully blanked.
func maskCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) < 4 {
		return strings.Repeat("*", len(trimmed))
	}
	return trimmed[:2] + strings.Repeat("*", len(trimmed)-2)
}
