// Package limiters provides the Redis-backed fixed-window failure limiters
// the engine uses as defense-in-depth against online guessing of the 6-digit
// TOTP space and the backup-code space.
//
// # Limiters
//
//   - [VerifyLimiter] — per-(org, owner) throttle for failed code
//     verifications; short cooldown matched to the TOTP step.
//   - [BackupCodeLimiter] — per-(org, owner) throttle for failed backup-code
//     submissions; longer cooldown.
//
// All limiters are nil-safe: calling any method on a nil receiver or with a
// nil client returns nil.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Make policy decisions beyond counting — the engine decides consequences.
package limiters
