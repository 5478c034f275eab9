// Package arbiter decides tool-approval requests on the agent's event
// stream.
//
// The arbiter subscribes to the same stream the renderer consumes and
// answers permission_request events according to a pluggable policy. It
// never blocks other stream consumers and never fails an invocation: a
// transport error while responding is logged and dropped.
//
// Three policies are provided:
//
//   - AutoApprove: every request is approved immediately, once.
//   - TUINative: no-op; an attached interactive viewer answers instead.
//   - WorkdirScoped: approve file operations whose real path stays inside
//     the configured working directory, deny everything else explicitly.
package arbiter
