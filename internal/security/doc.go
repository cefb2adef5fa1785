// Package security derives the read-only posture report exposed through the
// root package. Keeping the derivation here keeps the report computable from
// configuration alone, with no engine state involved.
package security
