// Package testdb provides a migrated PostgreSQL database for integration
// tests. It uses SCANNER_TEST_DATABASE_URL or DATABASE_URL when set and
// otherwise starts a disposable container with testcontainers-go. Tests
// are skipped when neither is available or when running with -short,
// except in CI, where a missing database fails the test.
package testdb
