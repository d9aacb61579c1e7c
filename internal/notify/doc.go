// Package notify announces terminal job outcomes and operator alerts.
//
// Completion events go out on the message bus exactly once per job: the
// workflow engine only calls PublishCompletion from the write that won the
// terminal transition, and a failed publish is logged rather than retried so
// downstream consumers never see duplicates. Operator alerts use ntfy and
// degrade to a no-op when no topic is configured.
package notify
