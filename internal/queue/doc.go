// Package queue defines the job transport contract and the components that
// move jobs from producers to a batch handler.
//
// A Transport delivers jobs at least once. The handler settles each
// delivery with an explicit Result: Ack removes it, Retry redelivers it
// verbatim after a delay until the attempt budget is spent and then moves
// it to the dead-letter destination, and Discard drops a job that can
// never succeed. Each delivery is settled as soon as the handler reports
// it, and the Consumer keeps extending the leases of deliveries still being
// handled. Memory is the in-process transport; the durable Postgres
// transport lives in internal/platform/postgres.
package queue
