// Package errors provides structured errors for the parley communication
// core.
//
// Every failure mode has a distinct ErrorCode so callers can branch on
// failures without matching message strings:
//
//	result, err := client.CallTool(ctx, "analyze_repo", args)
//	if errors.Is(err, errors.ErrCodeRequestTimeout) {
//	    // deadline elapsed; the pending entry has been removed
//	}
//
// Categories group codes by retry semantics:
//
//   - transient: retry may succeed (timeouts, disconnects)
//   - permanent: retry will not help (misdirected messages, duplicates)
//   - resource: the endpoint should be considered unusable (breaker tripped)
//   - internal: unexpected failures
//
// Constructors exist for each code (RequestTimeout, Misdirected, ...) and
// attach the relevant context (session key, method, remote RPC code) as
// typed fields and metadata.
package errors
