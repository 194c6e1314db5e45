package errors

import (
	"errors"
	"fmt"
	"time"
)

// EmptyChunkSetReason is the reason recorded for files that produced no chunks.
const EmptyChunkSetReason = "empty-chunk-set"

// AmanError is the structured error type for amanmem.
// It carries enough context for retry decisions, logging, and CLI output.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_207_LOCK_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("[%s]", e.Code)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AmanError with the same code.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// LockTimeout reports that the state lease could not be acquired in time.
func LockTimeout(path, holder string, waited time.Duration) *AmanError {
	return New(ErrCodeLockTimeout, fmt.Sprintf("state lease on %s not acquired after %s", path, waited), nil).
		WithDetail("path", path).
		WithDetail("holder", holder).
		WithSuggestion("another importer is holding the state lease; retry shortly")
}

// LeaseLost reports that the state lease expired or passed to another
// holder before a write was committed. Nothing was written.
func LeaseLost(path, holder string) *AmanError {
	return New(ErrCodeLockTimeout, fmt.Sprintf("state lease on %s lost before the write was committed", path), nil).
		WithDetail("path", path).
		WithDetail("holder", holder).
		WithSuggestion("the update outlived state.lease_ttl; retry it, or raise lease_ttl above lock_timeout")
}

// PathRejected reports a path that failed normalization or the allow-list.
func PathRejected(path, reason string) *AmanError {
	return New(ErrCodeInvalidPath, fmt.Sprintf("path rejected: %s: %s", path, reason), nil).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

// CorruptState reports a state document that could not be parsed.
func CorruptState(path string, cause error) *AmanError {
	return New(ErrCodeFileCorrupt, fmt.Sprintf("state document %s is corrupt", path), cause).
		WithDetail("path", path).
		WithSuggestion("restore a backup or enable corrupt-state recovery to reinitialize")
}

// EmptyChunkSet reports a source file that produced zero chunks.
func EmptyChunkSet(path string) *AmanError {
	return New(ErrCodeChunkingFailed, EmptyChunkSetReason, nil).WithDetail("path", path)
}

// EmbeddingDegenerate reports a model that keeps returning all-zero vectors.
func EmbeddingDegenerate(model string, index int) *AmanError {
	return New(ErrCodeEmbeddingDegenerate,
		fmt.Sprintf("model %s returned an all-zero vector for input %d", model, index), nil).
		WithDetail("model", model).
		WithDetail("index", fmt.Sprint(index)).
		WithSuggestion("check the embedding model installation or switch embedding mode")
}

// CollectionQueryTimeout reports a collection that did not answer in time.
func CollectionQueryTimeout(collection string, cause error) *AmanError {
	return New(ErrCodeCollectionTimeout, fmt.Sprintf("collection %s query timed out", collection), cause).
		WithDetail("collection", collection)
}

// MigrationFailure reports a state migration that could not complete.
func MigrationFailure(path string, from, to int, cause error) *AmanError {
	return New(ErrCodeMigrationFailed, fmt.Sprintf("migrating %s from v%d to v%d failed", path, from, to), cause).
		WithDetail("path", path).
		WithSuggestion("the pre-migration backup was left next to the state file")
}

// UnsupportedVersion reports a state document written by a newer release.
func UnsupportedVersion(path string, found, supported int) *AmanError {
	return New(ErrCodeSchemaUnsupported,
		fmt.Sprintf("state document %s has version %d, newest supported is %d", path, found, supported), nil).
		WithDetail("path", path).
		WithSuggestion("upgrade amanmem")
}

// DimensionMismatch reports a vector whose size differs from the collection.
func DimensionMismatch(collection string, want, got int) *AmanError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("collection %s expects %d dimensions, got %d", collection, want, got), nil).
		WithDetail("collection", collection)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first AmanError in err's chain.
func As(err error) (*AmanError, bool) {
	var ae *AmanError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	ae, ok := As(err)
	return ok && ae.Retryable
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	ae, ok := As(err)
	return ok && ae.Severity == SeverityFatal
}

// GetCode extracts the error code from the first AmanError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// Reason returns a short reason string suitable for persisting in state.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if ae, ok := As(err); ok {
		if ae.Code == ErrCodeChunkingFailed && ae.Message == EmptyChunkSetReason {
			return EmptyChunkSetReason
		}
	}
	return err.Error()
}
