// Package daemon assembles the pipeline and supervises its lifecycle.
//
// One daemon instance runs per data directory, enforced by a file lock. It
// owns the bus subscription that feeds ingestion, the worker pool that drains
// the queue, and a small HTTP API that exposes job state and dead letters for
// the CLI and external dashboards.
package daemon
