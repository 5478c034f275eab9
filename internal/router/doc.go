// Package router classifies live agent stream events into render operations.
//
// The router is a pure state machine over three identifier sets: active text
// parts, active reasoning parts, and a bounded set of part ids that have
// already streamed incremental content. It exists to solve one problem: the
// agent emits the same text through several overlapping event shapes
// (incremental deltas, full snapshots, and a legacy flat delta), and the
// console must print each character exactly once, in order.
package router
