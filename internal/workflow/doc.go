// Package workflow implements the per-job state machine.
//
// A job walks PENDING -> SUBMITTED -> IN_PROGRESS* -> SUCCEEDED|FAILED. The
// engine holds no in-memory state between invocations: every Advance loads
// the record, performs at most one remote call, persists the result with an
// optimistic transition, and returns. Waiting between polls is expressed as a
// delayed queue message rather than a sleeping goroutine, so thousands of
// in-flight jobs cost nothing while idle.
//
// Concurrent deliveries for the same job are resolved by the store: the first
// writer wins, everyone else gets a conflict and treats the message as
// already handled. Completion events therefore fire at most once per job.
package workflow
