// Package runstore provides SQLite-backed durable storage for orchestration
// runs.
//
// The store is the single owner of all persisted orchestration state:
//   - Runs: one row per orchestration command execution, never deleted
//   - Run Events: append-only journal ordered by an AUTOINCREMENT sequence
//   - Agent Results: one row per logical agent step, replaced on resume
//   - Quality Results: one row per quality-gate attempt, replaced on resume
//   - Plan Worktrees: canonical plan path -> worktree/branch association
//
// # Critical Patterns
//
// Natural-key replacement: agent_results is UNIQUE on
// (run_id, role, phase, iteration, template) and upserts overwrite the whole
// row including its id, so the log pointer always tracks the latest attempt.
//
// Resume queries: MaxIterationForPhase, QualityAttemptCount and
// HasCompletedStep let the orchestration loop skip completed, possibly
// irreversible steps after a crash.
//
// Single handle per path: Open shares one connection per resolved database
// path per process, reference-counted, so SQLite's single-writer model is
// never violated from within the process.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package runstore
