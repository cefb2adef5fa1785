// Package twofactor provides the two-factor authentication credential engine
// used by multi-tenant applications: TOTP secret provisioning, drift-tolerant
// code verification with replay protection, single-use backup recovery codes,
// and the enrollment state machine that decides when an account counts as
// 2FA-protected.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// twofactor is the public surface. It exposes [Engine], [Builder], [Config],
// the [CredentialStore] integration interface, and value types (Provision,
// VerifyResult, EnrollmentStatus). All internal coordination — backup-code
// flows, rate limiting, audit dispatch, Redis record encoding — lives under
// internal/ and is never exported.
//
// Identity is always explicit: every operation takes the owner and
// organization as parameters, never ambient context, so the engine composes
// with any session mechanism.
//
// # What this package must NOT do
//
//   - Own passwords, sessions, roles, or any first-factor concern; those are
//     external collaborators.
//   - Persist or log plaintext backup codes or TOTP secrets beyond the single
//     provisioning response.
//   - Block a state transition on audit delivery — audit emission is
//     fire-and-forget through a buffered dispatcher.
package twofactor
