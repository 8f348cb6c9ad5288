// Package analysis defines the boundary to the external malicious-content
// scanning provider. The provider accepts a document, returns an analysis
// handle and is then polled until it reports a verdict.
//
// Implementations live under internal/platform; MockClient is a
// testify-backed double for tests.
package analysis
