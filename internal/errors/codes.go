// Package errors provides structured error handling for the memory search
// engine.
//
// Every error is classified into one of six kinds, matching the error
// handling design the engine uses to decide between retrying, degrading,
// or failing an operation outright:
//
//   - transient-network: connection resets, timeouts, 5xx/429 responses
//     from an embedding/chat/rerank endpoint. Safe to retry with backoff.
//   - endpoint-protocol: a reachable endpoint returned something the client
//     can't parse or didn't promise (bad JSON, wrong dimensions, missing
//     fields).
//   - schema-absent: an optional on-disk feature is unavailable, such as
//     the sqlite-vec extension failing to load.
//   - store-corruption: the SQLite store failed an integrity check at open.
//   - input-validation: caller-supplied input failed validation.
//   - cancellation: context cancellation or cooperative shutdown.
package errors

// Kind classifies an error for retry, logging, and degradation decisions.
type Kind string

const (
	KindTransientNetwork Kind = "transient-network"
	KindEndpointProtocol Kind = "endpoint-protocol"
	KindSchemaAbsent     Kind = "schema-absent"
	KindStoreCorruption  Kind = "store-corruption"
	KindInputValidation  Kind = "input-validation"
	KindCancellation     Kind = "cancellation"
)

// Severity indicates how the caller should react to an error.
type Severity string

const (
	// SeverityFatal means the operation cannot continue.
	SeverityFatal Severity = "FATAL"
	// SeverityDegraded means the operation continues with reduced
	// functionality, e.g. vector search falling back to linear scan.
	SeverityDegraded Severity = "DEGRADED"
	// SeverityWarning means the failure was logged and the unit of work
	// (a file, a chunk) was skipped.
	SeverityWarning Severity = "WARNING"
)

// severityFromKind assigns the default severity for a kind. Call sites can
// still override with WithSeverity for cases the default doesn't fit.
func severityFromKind(k Kind) Severity {
	switch k {
	case KindStoreCorruption:
		return SeverityFatal
	case KindSchemaAbsent:
		return SeverityDegraded
	case KindTransientNetwork, KindEndpointProtocol, KindInputValidation, KindCancellation:
		return SeverityWarning
	default:
		return SeverityWarning
	}
}

// retryableKinds lists the kinds considered safe to retry with backoff.
var retryableKinds = map[Kind]bool{
	KindTransientNetwork: true,
}

func isRetryableKind(k Kind) bool {
	return retryableKinds[k]
}
