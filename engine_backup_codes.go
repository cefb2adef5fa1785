package twofactor

import (
	"context"
	"errors"

	"github.com/caseflowhq/twofactor/internal/flows"
	"github.com/caseflowhq/twofactor/internal/limiters"
)

// backupCodeDeps bridges the engine's store, limiter, metric, and audit
// surfaces into the backup-code flow dependency set. When cred is non-nil,
// ReplaceBackupCodes installs the new hashes into it and persists the whole
// record under optimistic versioning. silent suppresses the flow's audit
// emissions so the caller can emit its own single event.
func (e *Engine) backupCodeDeps(cred *Credential, silent bool) flows.BackupCodeDeps {
	deps := flows.BackupCodeDeps{
		Count:  e.config.BackupCodes.Count,
		Length: e.config.BackupCodes.Length,

		ConsumeBackupCode:    e.store.ConsumeBackupCode,
		CheckLimiter:         e.backupLimiter.Check,
		RecordLimiterFailure: e.backupLimiter.RecordFailure,
		ResetLimiter:         e.backupLimiter.Reset,
		IsRateLimited: func(err error) bool {
			return errors.Is(err, limiters.ErrBackupCodeRateLimited)
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Metrics: flows.BackupCodeMetrics{
			Used:        int(MetricBackupCodeUsed),
			Failed:      int(MetricBackupCodeFailed),
			Regenerated: int(MetricBackupCodeRegenerated),
		},
		Events: flows.BackupCodeEvents{
			Used:        auditEventBackupCodeUsed,
			Failed:      auditEventBackupCodeFailed,
			Regenerated: auditEventBackupCodesRegenerated,
			RateLimited: auditEventRateLimitTriggered,
		},
		Errors: flows.BackupCodeErrors{
			EngineNotReady: ErrEngineNotReady,
			Invalid:        ErrCodeInvalid,
			RateLimited:    ErrRateLimited,
			Unavailable:    ErrUnavailable,
		},
	}

	if cred != nil {
		deps.ReplaceBackupCodes = func(ctx context.Context, _ string, records []flows.BackupCodeRecord) error {
			cred.BackupCodes = backupRecordsFromFlows(records)
			return e.saveCredential(ctx, cred)
		}
	}

	if !silent {
		deps.EmitAudit = func(ctx context.Context, eventType string, success bool, ownerID, orgID string, err error, metadataBuilder func() map[string]string) {
			e.emitAudit(ctx, eventType, success, Identity{OwnerID: ownerID, OrgID: orgID}, err, metadataBuilder)
		}
	}

	return deps
}

func backupRecordsFromFlows(records []flows.BackupCodeRecord) []BackupCodeRecord {
	out := make([]BackupCodeRecord, 0, len(records))
	for _, r := range records {
		out = append(out, BackupCodeRecord{Hash: r.Hash})
	}
	return out
}
