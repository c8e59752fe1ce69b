// Package observability builds the process-wide zap logger for the
// enhancement gateway.
//
// The logger is constructed once in main and passed to every service
// constructor; nothing in the module reaches for a global logger.
package observability
