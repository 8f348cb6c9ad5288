// Package ciutil detects CI environments and reads the environment
// variables shared by test tooling, masking secrets when it logs them.
package ciutil
