// Package indexer scans configured source roots for Markdown files,
// chunks and contextualizes what changed, embeds pending chunks, and
// commits each file's chunks, FTS rows, vector rows, and collection
// links in a single transaction (spec.md §4.9).
package indexer

import (
	"context"

	"github.com/quietloop/memory/internal/contextualizer"
)

const (
	// DefaultScanConcurrency bounds how many files are stat'd/read/chunked
	// in parallel during the scan stage.
	DefaultScanConcurrency = 50

	// DefaultContextConcurrency bounds how many files are contextualized
	// concurrently (spec.md §5: "contextualization up to ~20 files
	// concurrently").
	DefaultContextConcurrency = 20
)

// Source names one configured root to scan into a named collection.
// Ignore holds glob-style patterns (see ignore.go) evaluated against each
// candidate file's path relative to Root.
type Source struct {
	Collection string
	Root       string
	Ignore     []string
}

// Options configures one indexing run.
type Options struct {
	Sources []Source

	// Prune deletes file rows whose paths were not encountered during
	// this run's scan.
	Prune bool

	// DryRun reports counts without mutating the store.
	DryRun bool

	// Contextualize enables the contextualizer stage. When false, chunks
	// are embedded without a context prefix.
	Contextualize bool

	ScanConcurrency    int
	ContextConcurrency int
}

func (o Options) withDefaults() Options {
	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = DefaultScanConcurrency
	}
	if o.ContextConcurrency <= 0 {
		o.ContextConcurrency = DefaultContextConcurrency
	}
	return o
}

// Embedder embeds already-prefixed document texts in batches.
// embedclient.Client satisfies this.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Contextualizer generates context prefixes for pending chunks.
// contextualizer.Contextualizer satisfies this.
type Contextualizer interface {
	Generate(ctx context.Context, inputs []contextualizer.Input) ([]contextualizer.Result, error)
}

// Stage names one phase of an indexing run, reported on the progress
// channel (§9 REDESIGN FLAG: promise+callback → channel of stage events).
type Stage int

const (
	StageScan Stage = iota
	StageChunk
	StageContextualize
	StageEmbed
	StageCommit
	StagePrune
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageScan:
		return "scan"
	case StageChunk:
		return "chunk"
	case StageContextualize:
		return "contextualize"
	case StageEmbed:
		return "embed"
	case StageCommit:
		return "commit"
	case StagePrune:
		return "prune"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// IndexProgress is one stage-progress event emitted on the Run's progress
// channel.
type IndexProgress struct {
	Stage       Stage
	File        string
	Current     int
	Total       int
	Message     string
}

// Report summarizes one indexing run, produced in both dry-run and real
// modes (spec.md §4.9).
type Report struct {
	Scanned     int
	Changed     int
	Skipped     int
	Pruned      int
	ChunksTotal int
	Errors      int
}
