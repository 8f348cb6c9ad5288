// Package domain contains the scan task and metric entities together with
// the lifecycle rules that are independent of storage and transport.
package domain
