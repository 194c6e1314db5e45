package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmanError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk gone")

	// When: wrapping it as a corrupt state error
	amanErr := CorruptState("/tmp/state.json", originalErr)

	// Then: the chain still reaches the original error
	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestAmanError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *AmanError
		expected string
	}{
		{
			name:     "empty chunk set",
			err:      EmptyChunkSet("/a.jsonl"),
			expected: "[ERR_504_CHUNKING_FAILED] empty-chunk-set",
		},
		{
			name:     "lock timeout",
			err:      LockTimeout("/s.json", "importer-1", 5*time.Second),
			expected: "[ERR_207_LOCK_TIMEOUT] state lease on /s.json not acquired after 5s",
		},
		{
			name:     "sentinel without message",
			err:      ErrCorruptState,
			expected: "[ERR_206_FILE_CORRUPT]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAmanError_Is_MatchesSentinelsByCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"lock timeout", LockTimeout("p", "h", time.Second), ErrLockTimeout},
		{"path rejected", PathRejected("../x", "traversal"), ErrPathRejected},
		{"corrupt", CorruptState("p", nil), ErrCorruptState},
		{"empty chunks", EmptyChunkSet("p"), ErrEmptyChunkSet},
		{"degenerate", EmbeddingDegenerate("m", 2), ErrEmbeddingDegenerate},
		{"collection timeout", CollectionQueryTimeout("c", nil), ErrCollectionQueryTimeout},
		{"migration", MigrationFailure("p", 1, 2, nil), ErrMigrationFailure},
		{"unsupported", UnsupportedVersion("p", 9, 2), ErrUnsupportedVersion},
		{"dimension", DimensionMismatch("c", 384, 768), ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: the error wrapped once more with fmt
			wrapped := fmt.Errorf("outer: %w", tt.err)

			// Then: errors.Is still finds the sentinel
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}

	assert.False(t, errors.Is(LockTimeout("p", "h", time.Second), ErrCorruptState))
}

func TestNew_DerivesCategorySeverityRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeLockTimeout, CategoryIO, SeverityWarning, true},
		{ErrCodeCollectionTimeout, CategoryNetwork, SeverityWarning, true},
		{ErrCodeMigrationFailed, CategoryConfig, SeverityFatal, false},
		{ErrCodeSchemaUnsupported, CategoryConfig, SeverityFatal, false},
		{ErrCodeInvalidPath, CategoryValidation, SeverityError, false},
		{ErrCodeEmbeddingDegenerate, CategoryInternal, SeverityError, false},
		{"BAD", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestIsRetryable_IsFatal_FollowChain(t *testing.T) {
	// Given: AmanErrors buried under fmt wrapping
	retryable := fmt.Errorf("tick: %w", LockTimeout("p", "h", time.Second))
	fatal := fmt.Errorf("open: %w", UnsupportedVersion("p", 3, 2))

	// Then: helpers look through the chain
	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsFatal(retryable))
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
	assert.Equal(t, ErrCodeSchemaUnsupported, GetCode(fatal))
	assert.Empty(t, GetCode(errors.New("plain")))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, EmptyChunkSetReason, Reason(fmt.Errorf("file: %w", EmptyChunkSet("a"))))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad", nil).WithDetail("a", "1").WithDetail("b", "2").WithSuggestion("fix it")

	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, err.Details)
	assert.Equal(t, "fix it", err.Suggestion)
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}
