// Package preflight checks that agentmem can run against a data directory
// before any memories are read or written.
//
// The package validates:
//   - The data directory exists and is writable
//   - Disk space availability (minimum 100MB)
//   - File descriptor limits (minimum 1024)
//   - The memory store opens and its indexes match memories.db
//   - The telemetry database opens, when telemetry is enabled
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
