// Package preflight checks that amanmem can run on this machine before an
// import or watch starts.
//
// The package validates:
//   - Configuration validity
//   - Write permissions and free space in the data directory
//   - Transcript roots that exist and contain transcripts
//   - Embedding settings for the configured mode
//   - File descriptor limits for the watcher
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, cfg)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
