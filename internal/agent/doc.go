// Package agent owns the agent subprocess lifecycle: it spawns the agent,
// multiplexes its NDJSON event stream to the event router, the permission
// arbiter, and the durable invocation log, enforces the invocation timeout
// with escalating termination, and validates the structured result the agent
// embeds in its closing message.
//
// Invoke returns within timeout + grace + drain bound regardless of the
// agent's behavior. Process failures (spawn errors, non-zero exit, timeout)
// become a failed Result with an explanatory message; structured results
// that break a stated invariant become a ProtocolViolationError, never a
// silently coerced success.
package agent
