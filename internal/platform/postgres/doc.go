// Package postgres implements the durable task queue on PostgreSQL.
//
// TaskStore holds tasks and metric counters and implements the claim
// protocol: a worker's lease is an open READ COMMITTED transaction holding
// a row lock taken with FOR UPDATE SKIP LOCKED, so concurrent workers never
// block on or double-claim a task. Notifier and Listener carry committed
// changes between processes over LISTEN/NOTIFY. Schema migrations are
// embedded and applied with goose.
package postgres
