package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	searchErr := New(KindEndpointProtocol, "file not found: test.txt", originalErr)

	require.NotNil(t, searchErr)
	assert.Equal(t, originalErr, errors.Unwrap(searchErr))
	assert.True(t, errors.Is(searchErr, originalErr))
}

func TestSearchError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		message  string
		expected string
	}{
		{
			name:     "transient network",
			kind:     KindTransientNetwork,
			message:  "request timed out",
			expected: "[transient-network] request timed out",
		},
		{
			name:     "store corruption",
			kind:     KindStoreCorruption,
			message:  "integrity check failed",
			expected: "[store-corruption] integrity check failed",
		},
		{
			name:     "input validation",
			kind:     KindInputValidation,
			message:  "query cannot be empty",
			expected: "[input-validation] query cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.kind, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestSearchError_Is_MatchesByKind(t *testing.T) {
	err1 := New(KindSchemaAbsent, "vector extension missing on node A", nil)
	err2 := New(KindSchemaAbsent, "vector extension missing on node B", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestSearchError_Is_DoesNotMatchDifferentKinds(t *testing.T) {
	err1 := New(KindSchemaAbsent, "vector extension missing", nil)
	err2 := New(KindStoreCorruption, "integrity check failed", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestSearchError_WithDetail_AddsContext(t *testing.T) {
	err := New(KindEndpointProtocol, "unexpected response shape", nil)

	err = err.WithDetail("path", "/foo/bar.md")
	err = err.WithDetail("status", "502")

	assert.Equal(t, "/foo/bar.md", err.Details["path"])
	assert.Equal(t, "502", err.Details["status"])
}

func TestSearchError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(KindTransientNetwork, "connection timed out", nil)

	err = err.WithSuggestion("check that the embedding endpoint is reachable")

	assert.Equal(t, "check that the embedding endpoint is reachable", err.Suggestion)
}

func TestSearchError_WithSeverity_Overrides(t *testing.T) {
	err := New(KindTransientNetwork, "connection refused", nil)
	assert.Equal(t, SeverityWarning, err.Severity)

	err = err.WithSeverity(SeverityFatal)
	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestSearchError_DefaultSeverityFromKind(t *testing.T) {
	tests := []struct {
		kind         Kind
		wantSeverity Severity
	}{
		{KindStoreCorruption, SeverityFatal},
		{KindSchemaAbsent, SeverityDegraded},
		{KindTransientNetwork, SeverityWarning},
		{KindEndpointProtocol, SeverityWarning},
		{KindInputValidation, SeverityWarning},
		{KindCancellation, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestSearchError_RetryableFromKind(t *testing.T) {
	tests := []struct {
		kind          Kind
		wantRetryable bool
	}{
		{KindTransientNetwork, true},
		{KindEndpointProtocol, false},
		{KindSchemaAbsent, false},
		{KindStoreCorruption, false},
		{KindInputValidation, false},
		{KindCancellation, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := New(tt.kind, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesSearchErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	searchErr := Wrap(KindEndpointProtocol, originalErr)

	require.NotNil(t, searchErr)
	assert.Equal(t, KindEndpointProtocol, searchErr.Kind)
	assert.Equal(t, "something went wrong", searchErr.Message)
	assert.Equal(t, originalErr, searchErr.Cause)
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindEndpointProtocol, nil))
}

func TestTransientNetwork_CreatesRetryableError(t *testing.T) {
	err := TransientNetwork("connection refused", nil)

	assert.Equal(t, KindTransientNetwork, err.Kind)
	assert.True(t, err.Retryable)
}

func TestStoreCorruption_CreatesFatalError(t *testing.T) {
	err := StoreCorruption("integrity check failed", nil)

	assert.Equal(t, KindStoreCorruption, err.Kind)
	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestSchemaAbsent_CreatesDegradedError(t *testing.T) {
	err := SchemaAbsent("vector extension unavailable", nil)

	assert.Equal(t, KindSchemaAbsent, err.Kind)
	assert.Equal(t, SeverityDegraded, err.Severity)
}

func TestInputValidation_CreatesValidationError(t *testing.T) {
	err := InputValidation("query cannot be empty", nil)

	assert.Equal(t, KindInputValidation, err.Kind)
}

func TestCancellation_CreatesCancellationError(t *testing.T) {
	err := Cancellation("operation cancelled", nil)

	assert.Equal(t, KindCancellation, err.Kind)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable SearchError",
			err:      New(KindTransientNetwork, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable SearchError",
			err:      New(KindInputValidation, "bad input", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(KindTransientNetwork, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(KindStoreCorruption, "store corrupt", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(KindTransientNetwork, "timeout", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestGetKind_ExtractsKind(t *testing.T) {
	err := New(KindSchemaAbsent, "extension missing", nil)
	assert.Equal(t, KindSchemaAbsent, GetKind(err))
	assert.Equal(t, Kind(""), GetKind(errors.New("plain")))
}

func TestGetSeverity_ExtractsSeverity(t *testing.T) {
	err := New(KindStoreCorruption, "corrupt", nil)
	assert.Equal(t, SeverityFatal, GetSeverity(err))
	assert.Equal(t, Severity(""), GetSeverity(errors.New("plain")))
}
