// Package task runs scan tasks through their lifecycle.
//
// Tasks live in a durable queue (see internal/platform/postgres). A worker
// claims one task at a time under a lease, asks the Processor to compute
// the next state, and commits that state back to the queue. Leases are
// kept alive by the heartbeat timestamp written on every RUNNING commit;
// a task whose heartbeat is older than the lease TTL is reclaimable by any
// worker. There is no other crash recovery.
package task
