package security

import "time"

// TOTPReport summarizes the code-derivation posture.
type TOTPReport struct {
	Algorithm        string
	Digits           int
	Period           int
	Skew             int
	ReplayProtection bool
}

// BackupCodeReport summarizes the recovery-code posture. EntropyBits derives
// from the code length over the 32-character alphabet.
type BackupCodeReport struct {
	Count       int
	Length      int
	EntropyBits int
}

// Report is the deployment security posture in one value, suitable for
// startup logging or an admin endpoint. It carries no secret material.
type Report struct {
	ProductionMode     bool
	TOTP               TOTPReport
	BackupCodes        BackupCodeReport
	RateLimitingActive bool
	VerifyMaxAttempts  int
	VerifyCooldown     time.Duration
	AuditEnabled       bool
	ProofEnabled       bool
	MetricsEnabled     bool
}

type ReportInput struct {
	ProductionMode    bool
	Algorithm         string
	Digits            int
	Period            int
	Skew              int
	ReplayProtection  bool
	BackupCodeCount   int
	BackupCodeLength  int
	VerifyMaxAttempts int
	VerifyCooldown    time.Duration
	AuditEnabled      bool
	ProofEnabled      bool
	MetricsEnabled    bool
}

func BuildReport(input ReportInput) Report {
	algorithm := input.Algorithm
	if algorithm == "" {
		algorithm = "SHA1"
	}

	return Report{
		ProductionMode: input.ProductionMode,
		TOTP: TOTPReport{
			Algorithm:        algorithm,
			Digits:           input.Digits,
			Period:           input.Period,
			Skew:             input.Skew,
			ReplayProtection: input.ReplayProtection,
		},
		BackupCodes: BackupCodeReport{
			Count:       input.BackupCodeCount,
			Length:      input.BackupCodeLength,
			EntropyBits: input.BackupCodeLength * 5,
		},
		RateLimitingActive: input.VerifyMaxAttempts > 0 && input.VerifyCooldown > 0,
		VerifyMaxAttempts:  input.VerifyMaxAttempts,
		VerifyCooldown:     input.VerifyCooldown,
		AuditEnabled:       input.AuditEnabled,
		ProofEnabled:       input.ProofEnabled,
		MetricsEnabled:     input.MetricsEnabled,
	}
}
