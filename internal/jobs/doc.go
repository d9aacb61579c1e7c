// Package jobs defines the job record model shared by every component of the
// orchestration pipeline.
//
// A job is identified by a deterministic hash of its input reference, walks a
// monotonic status machine (PENDING -> SUBMITTED -> IN_PROGRESS* -> terminal),
// and carries the attempt counter and structured error detail the workflow
// engine maintains. Treat this package as the single source of truth for
// status semantics; persistence lives in internal/store.
package jobs
