// Package service contains the application use cases that sit between the
// HTTP layer and the task store: accepting uploaded documents for scanning
// and reading back task state and scan reports.
//
// Services receive their dependencies through constructor injection and
// translate store errors into the sentinels defined in errors.go, which the
// API layer maps to status codes.
package service
