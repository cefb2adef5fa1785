// Package stores contains the Redis-backed credential record store: a
// compact binary codec plus WATCH-based optimistic transactions for version
// checks, exactly-once backup-code consumption, and the monotonic TOTP
// counter watermark.
//
// The root package adapts this store to the public CredentialStore interface;
// hosts with their own database implement that interface instead.
package stores
