package errors

import (
	"fmt"
)

// SearchError is the structured error type used throughout the engine.
// It carries enough context for callers to decide whether to retry, log
// and continue, or abort, without inspecting error strings.
type SearchError struct {
	// Kind classifies the failure (transient-network, store-corruption, ...).
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Severity indicates how the caller should react. Defaults to the
	// kind's usual severity but can be overridden with WithSeverity.
	Severity Severity

	// Details contains additional context as key-value pairs (host,
	// chunk id, file path, ...).
	Details map[string]string

	// Cause is the underlying error that triggered this one.
	Cause error

	// Retryable indicates whether the failed operation is safe to retry
	// with backoff.
	Retryable bool

	// Suggestion is an actionable hint for whoever is operating the
	// engine (e.g. "check that the embedding endpoint is reachable").
	Suggestion string
}

// Error implements the error interface.
func (e *SearchError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SearchError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by kind, so that
// errors.Is(err, &SearchError{Kind: KindStoreCorruption}) works.
func (e *SearchError) Is(target error) bool {
	t, ok := target.(*SearchError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail adds a key-value detail to the error. Returns the error for
// chaining.
func (e *SearchError) WithDetail(key, value string) *SearchError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches an actionable suggestion. Returns the error for
// chaining.
func (e *SearchError) WithSuggestion(suggestion string) *SearchError {
	e.Suggestion = suggestion
	return e
}

// WithSeverity overrides the kind's default severity. Returns the error
// for chaining.
func (e *SearchError) WithSeverity(s Severity) *SearchError {
	e.Severity = s
	return e
}

// New creates a SearchError of the given kind. Severity and retryability
// are derived from the kind unless overridden afterward.
func New(kind Kind, message string, cause error) *SearchError {
	return &SearchError{
		Kind:      kind,
		Message:   message,
		Severity:  severityFromKind(kind),
		Cause:     cause,
		Retryable: isRetryableKind(kind),
	}
}

// Wrap creates a SearchError from an existing error, reusing its message.
// Returns nil if err is nil, so Wrap can be used directly in a return
// statement without an extra nil check.
func Wrap(kind Kind, err error) *SearchError {
	if err == nil {
		return nil
	}
	return New(kind, err.Error(), err)
}

// TransientNetwork creates a retryable network error (timeout, connection
// reset, 5xx/429 from an endpoint).
func TransientNetwork(message string, cause error) *SearchError {
	return New(KindTransientNetwork, message, cause)
}

// EndpointProtocol creates an error for a reachable endpoint that returned
// something the client couldn't use (bad JSON, wrong dimensions).
func EndpointProtocol(message string, cause error) *SearchError {
	return New(KindEndpointProtocol, message, cause)
}

// SchemaAbsent creates an error for an optional on-disk feature that is
// unavailable, such as the vector extension failing to load.
func SchemaAbsent(message string, cause error) *SearchError {
	return New(KindSchemaAbsent, message, cause)
}

// StoreCorruption creates a fatal error for on-disk store damage detected
// at open time.
func StoreCorruption(message string, cause error) *SearchError {
	return New(KindStoreCorruption, message, cause)
}

// InputValidation creates an error for caller-supplied input that failed
// validation.
func InputValidation(message string, cause error) *SearchError {
	return New(KindInputValidation, message, cause)
}

// Cancellation creates an error for context cancellation or cooperative
// shutdown.
func Cancellation(message string, cause error) *SearchError {
	return New(KindCancellation, message, cause)
}

// IsRetryable reports whether err is a SearchError marked retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*SearchError); ok {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether err is a SearchError with fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*SearchError); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetKind extracts the Kind from a SearchError, or "" if err is not one.
func GetKind(err error) Kind {
	if se, ok := err.(*SearchError); ok {
		return se.Kind
	}
	return ""
}

// GetSeverity extracts the Severity from a SearchError, or "" if err is
// not one.
func GetSeverity(err error) Severity {
	if se, ok := err.(*SearchError); ok {
		return se.Severity
	}
	return ""
}
