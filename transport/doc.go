// Package transport frames JSON-RPC 2.0 envelopes over a tool endpoint's
// standard streams.
//
// One complete JSON object per line, newline-delimited. The Framer owns a
// pair of streams: it accumulates incoming bytes, splits on newline
// boundaries (trailing partial lines stay buffered), and parses each line
// that passes a cheap "jsonrpc" substring pre-filter. Parse failures are
// logged and dropped, never fatal. Outgoing envelopes are serialized and
// written atomically as single lines.
//
// Proc is the scoped subprocess resource behind the streams: acquire with
// Start, release with Kill. Its stderr is drained to the logger only. When
// the process exits, the Framer fires exactly one disconnect signal
// carrying the exit code, fanning out to every registered listener.
//
//	proc, _ := transport.Start(transport.Command{Path: "tool-server"}, log)
//	framer := proc.Framer(log)
//	framer.OnResponse(dispatch)
//	framer.OnDisconnect(failPending)
//	framer.Start()
package transport
