// Package store persists job records and exposes the optimistic-concurrency
// transitions the workflow engine relies on.
//
// Every transition names the expected prior status and updated_at; a
// concurrent writer that got there first leaves zero rows affected and the
// loser receives ErrConflict. Terminal states are unreachable as transition
// sources, so SUCCEEDED and FAILED records are never overwritten.
package store
