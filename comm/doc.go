// Package comm implements the bounded conversation state machine
// between two named agents.
//
// A Communication starts active and ends completed or escalated;
// terminal states are never left. Each Send appends one numbered
// Exchange up to a fixed ceiling; reaching the ceiling escalates the
// communication and is reported as a normal SendResult, not an error.
// Records are persisted whole in a state.Store under "comm.<session>",
// with the store's per-key lock serializing concurrent writers, and
// every exchange and transition is emitted to an audit.Sink.
package comm
