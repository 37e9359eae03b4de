// Package audit records communication lifecycle events for operators.
//
// Every exchange, completion, and escalation produces an Entry that is
// handed to a Sink. LogSink emits structured log lines, SignedTrail
// keeps a tamper-evident Ed25519-signed record, and MultiSink combines
// sinks. Audit output is observational only and never feeds back into
// the core's decisions.
package audit
