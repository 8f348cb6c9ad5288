// Package store holds the persistence plumbing shared by storage
// implementations: the DBTX abstraction over *sql.DB and *sql.Tx,
// transaction helpers, and the error vocabulary stores return.
package store
