// Package observability provides structured logging for the EKmate portal.
//
// This package implements:
//   - zap logger construction from configuration (json or console output)
//   - Request ID propagation into log fields
package observability
