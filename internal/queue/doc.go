// Package queue implements the durable message queue between ingestion and
// the worker pool.
//
// Delivery is at-least-once. Receive leases the oldest visible message for a
// visibility window and hands back a receipt; acknowledging, releasing, or
// dead-lettering all require that receipt, so a consumer whose lease expired
// cannot disturb a redelivered message. Messages that exhaust their delivery
// budget or fail permanently move to a dead-letter table, from which an
// operator can redrive them.
package queue
