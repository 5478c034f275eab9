// Package loop drives the author/review cycle for one plan run.
//
// Each phase runs the author agent, then the configured quality gates, then
// the reviewer agent, iterating on corrections until the reviewer says
// ready or the iteration cap is hit. Every step is journaled to the run
// store as it happens, and the resume queries let an interrupted run pick
// up at the exact step it stopped at without re-paying for completed work.
package loop
