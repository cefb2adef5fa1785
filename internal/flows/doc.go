// Package flows contains pure-function orchestrators for the backup-code
// operations. Each flow accepts a typed dependency struct and has no
// side-effects beyond those dependencies, which keeps the Engine thin and
// lets the disable/regenerate paths reuse consumption with audit silenced
// (one audit event per external operation).
//
// # Architecture boundaries
//
// Flow functions coordinate store consumption, rate limiting, audit, and
// metrics through dependency fields. They do NOT own any of these resources —
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (to avoid import cycles).
//   - Perform I/O directly — all I/O is mediated through dependency fields.
package flows
