// Package rpc presents blocking-looking remote tool calls over the line
// framed transport.
//
// A Client owns one tool endpoint subprocess. Connect performs the fixed
// initialize / notifications-initialized handshake and caches the
// endpoint's tool list for the client's lifetime. CallTool allocates a
// monotonically increasing request id, registers it in an instance-scoped
// correlation table with a per-class deadline (LLM-backed tools get the
// longer bound), and suspends the caller until a correlated reply arrives,
// the deadline fires, or the endpoint terminates, whichever happens first.
//
// Failure modes are typed: see the errors package (REQUEST_TIMEOUT,
// REMOTE_TOOL, DISCONNECTED, ...). When the subprocess exits, every
// outstanding request fails at once; none is left to time out naturally.
//
// Manager groups several named endpoints, one per cooperating agent's tool
// server, with merged tool listing and per-endpoint deny lists.
package rpc
