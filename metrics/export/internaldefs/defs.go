package internaldefs

import (
	twofactor "github.com/caseflowhq/twofactor"
)

// CounterDef binds a core counter to its exported name and help text. Both
// exporters consume this table so the exposed series stay in lockstep.
type CounterDef struct {
	ID   twofactor.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: twofactor.MetricSetupRequested, Name: "twofactor_setup_requested_total", Help: "Enrollment setups started."},
	{ID: twofactor.MetricSetupConfirmed, Name: "twofactor_setup_confirmed_total", Help: "Enrollments confirmed and enabled."},
	{ID: twofactor.MetricSetupFailed, Name: "twofactor_setup_failed_total", Help: "Failed enrollment operations."},
	{ID: twofactor.MetricVerifySuccess, Name: "twofactor_verify_success_total", Help: "Successful second-factor verifications."},
	{ID: twofactor.MetricVerifyFailure, Name: "twofactor_verify_failure_total", Help: "Failed second-factor verifications."},
	{ID: twofactor.MetricReplayDetected, Name: "twofactor_replay_detected_total", Help: "Detected TOTP replay attempts."},
	{ID: twofactor.MetricRateLimitHit, Name: "twofactor_rate_limit_hit_total", Help: "Verification attempts denied by rate limiting."},
	{ID: twofactor.MetricBackupCodeUsed, Name: "twofactor_backup_code_used_total", Help: "Backup codes consumed successfully."},
	{ID: twofactor.MetricBackupCodeFailed, Name: "twofactor_backup_code_failed_total", Help: "Failed backup-code submissions."},
	{ID: twofactor.MetricBackupCodeRegenerated, Name: "twofactor_backup_code_regenerated_total", Help: "Backup-code set replacements."},
	{ID: twofactor.MetricDisabled, Name: "twofactor_disabled_total", Help: "Enrollments torn down."},
}

// AuditDroppedName is the series exposing dispatcher backpressure drops.
const AuditDroppedName = "twofactor_audit_dropped_total"

// AuditDroppedHelp documents the AuditDroppedName series.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
