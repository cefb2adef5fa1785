// Package audit defines the audit event model, the pluggable Sink
// implementations, and the buffered async Dispatcher that delivers events
// without ever blocking or failing the emitting state transition.
//
// # Architecture boundaries
//
// The root package owns event naming and error-code mapping; this package
// owns only transport. Sinks must tolerate concurrent Emit calls.
//
// # What this package must NOT do
//
//   - Import the root package or any sibling internal package.
//   - Inspect or alter event payloads — masking happens before Emit.
package audit
