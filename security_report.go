package twofactor

import "github.com/caseflowhq/twofactor/internal/security"

// SecurityReport summarizes the engine's effective security posture: TOTP
// parameters, backup-code entropy, and which protections are active. Safe to
// log at startup.
type SecurityReport = security.Report

// SecurityReport derives the posture report from the engine configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return security.BuildReport(security.ReportInput{
		ProductionMode:    e.config.ProductionMode,
		Algorithm:         e.config.TOTP.Algorithm,
		Digits:            e.config.TOTP.Digits,
		Period:            e.config.TOTP.Period,
		Skew:              e.config.TOTP.Skew,
		ReplayProtection:  e.config.TOTP.EnforceReplayProtection,
		BackupCodeCount:   e.config.BackupCodes.Count,
		BackupCodeLength:  e.config.BackupCodes.Length,
		VerifyMaxAttempts: e.config.RateLimit.MaxAttempts,
		VerifyCooldown:    e.config.RateLimit.Cooldown,
		AuditEnabled:      e.config.Audit.Enabled,
		ProofEnabled:      e.config.Proof.Enabled,
		MetricsEnabled:    e.config.Metrics.Enabled,
	})
}
