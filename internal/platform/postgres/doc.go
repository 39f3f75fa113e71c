// Package postgres provides the durable job transport on PostgreSQL.
//
// Jobs live in parley_jobs until they are acked or discarded. Receive
// leases ready rows with FOR UPDATE SKIP LOCKED so concurrent consumers
// never see the same row, and a lease that outlives the visibility
// timeout makes the row deliverable again. Jobs that exhaust their
// attempts move to parley_dead_letters in the same transaction that
// removes them from the queue.
package postgres
