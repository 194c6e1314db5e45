// Package errors provides structured error handling for amanmem.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and schema errors
//   - 2XX: State and file IO errors
//   - 3XX: Network and remote collaborator errors
//   - 4XX: Validation errors
//   - 5XX: Pipeline (chunking, embedding, indexing) errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration or schema errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, state and disk errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network or remote service errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates rejected input.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates pipeline and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound    = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission  = "ERR_103_CONFIG_PERMISSION"
	ErrCodeMigrationFailed   = "ERR_104_MIGRATION_FAILED"
	ErrCodeSchemaUnsupported = "ERR_105_SCHEMA_UNSUPPORTED"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeStoreFailed    = "ERR_205_STORE_FAILED"
	ErrCodeFileCorrupt    = "ERR_206_FILE_CORRUPT"
	ErrCodeLockTimeout    = "ERR_207_LOCK_TIMEOUT"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeCollectionTimeout  = "ERR_304_COLLECTION_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPath       = "ERR_406_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal            = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed     = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed        = "ERR_503_SEARCH_FAILED"
	ErrCodeChunkingFailed      = "ERR_504_CHUNKING_FAILED"
	ErrCodeIndexFailed         = "ERR_505_INDEX_FAILED"
	ErrCodeEmbeddingDegenerate = "ERR_506_EMBEDDING_DEGENERATE"
)

// Sentinels for errors.Is matching. AmanError.Is compares codes, so any
// error carrying the same code matches regardless of message or cause.
var (
	ErrLockTimeout            = &AmanError{Code: ErrCodeLockTimeout}
	ErrPathRejected           = &AmanError{Code: ErrCodeInvalidPath}
	ErrCorruptState           = &AmanError{Code: ErrCodeFileCorrupt}
	ErrEmptyChunkSet          = &AmanError{Code: ErrCodeChunkingFailed}
	ErrEmbeddingDegenerate    = &AmanError{Code: ErrCodeEmbeddingDegenerate}
	ErrCollectionQueryTimeout = &AmanError{Code: ErrCodeCollectionTimeout}
	ErrMigrationFailure       = &AmanError{Code: ErrCodeMigrationFailed}
	ErrUnsupportedVersion     = &AmanError{Code: ErrCodeSchemaUnsupported}
	ErrDimensionMismatch      = &AmanError{Code: ErrCodeDimensionMismatch}
	ErrSearchFailed           = &AmanError{Code: ErrCodeSearchFailed}
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "207" from "ERR_207_LOCK_TIMEOUT"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeMigrationFailed, ErrCodeSchemaUnsupported, ErrCodeDiskFull:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeLockTimeout, ErrCodeCollectionTimeout:
		return true
	default:
		return false
	}
}
