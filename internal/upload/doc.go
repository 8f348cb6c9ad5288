// Package upload validates documents submitted for scanning and derives
// the names and fingerprint they are stored and deduplicated under.
package upload
