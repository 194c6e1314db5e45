// Package logging configures structured slog output for amanmem.
//
// Long-running commands (watch, import) write JSON lines to a size-rotated
// file under ~/.amanmem/logs/; --debug also tees them to stderr. One-shot
// commands log warnings and errors to stderr only.
package logging
