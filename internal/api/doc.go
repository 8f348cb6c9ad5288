// Package api serves the scanner's HTTP surface: document upload, task
// listing and lookup, scan reports, counters, health, and the WebSocket
// gateway that streams task changes to observers.
//
// Handlers translate HTTP concerns into calls on the service layer and map
// service and store errors to status codes in errors.go. Client-facing
// error messages never carry raw error text; details go to the redacted
// request log instead.
package api
