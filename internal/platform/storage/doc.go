// Package storage keeps uploaded documents and provider reports on an
// afero filesystem. References handed out are paths inside the configured
// directories; references outside them are rejected.
package storage
