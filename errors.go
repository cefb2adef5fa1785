package twofactor

import "errors"

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// initialization through [Builder.Build] completed.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrIdentityRequired is returned when the owner identity is empty.
	ErrIdentityRequired = errors.New("owner identity required")
	// ErrAlreadyEnrolled is returned when setup is requested for an account
	// whose credential is already enabled.
	ErrAlreadyEnrolled = errors.New("two-factor already enrolled")
	// ErrNotEnrolled is returned when verification, disable, or regeneration
	// is attempted for an account without an enabled credential.
	ErrNotEnrolled = errors.New("two-factor not enrolled")
	// ErrSetupNotPending is returned by [Engine.ConfirmSetup] when no setup
	// was started for the account.
	ErrSetupNotPending = errors.New("no pending two-factor setup")
	// ErrMalformedCode is returned when a submitted value matches neither the
	// TOTP nor the backup-code shape. It is detected before any cryptographic
	// work touches the stored secret.
	ErrMalformedCode = errors.New("malformed code")
	// ErrCodeInvalid is returned for any code that fails verification. It
	// deliberately does not distinguish a wrong TOTP code from a wrong backup
	// code, or a replayed code from a never-valid one.
	ErrCodeInvalid = errors.New("invalid code")
	// ErrCodeReplayed marks a code accepted once and submitted again within
	// the tolerance window. It never escapes the Engine — callers see
	// [ErrCodeInvalid] — but it is logged distinctly for abuse detection.
	ErrCodeReplayed = errors.New("code already used")
	// ErrRateLimited is returned after too many consecutive failed attempts
	// within the cooldown window.
	ErrRateLimited = errors.New("verification attempts rate limited")
	// ErrUnavailable is the generic transient failure for credential store,
	// limiter backend, or entropy-source errors. State is unchanged.
	ErrUnavailable = errors.New("two-factor backend unavailable")
	// ErrConflict is returned when a racing mutation changed the credential
	// record mid-operation. The caller may retry.
	ErrConflict = errors.New("credential record modified concurrently")
	// ErrCredentialNotFound must be returned by [CredentialStore.Get] when no
	// record exists for the owner.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrVersionConflict must be returned by [CredentialStore.Save] when the
	// stored version no longer matches the record's version.
	ErrVersionConflict = errors.New("credential version conflict")
	// ErrProofDisabled is returned by proof-token operations when
	// [ProofConfig.Enabled] is false.
	ErrProofDisabled = errors.New("proof tokens disabled")
	// ErrProofInvalid is returned when a proof token fails parsing or
	// signature/claim validation.
	ErrProofInvalid = errors.New("invalid proof token")
)
