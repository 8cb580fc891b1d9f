// Package rag holds the retrieval primitives: the in-memory VectorIndex with
// metadata-filtered exact cosine search, the atomically swappable Holder that
// request handlers share, and a Qdrant-backed Searcher with the same
// filter-then-rank contract.
package rag

import (
	"context"
	"errors"

	"github.com/54b3r/hmochat-go/internal/corpus"
)

// DefaultTopK is the number of hits returned when the caller passes topK <= 0.
const DefaultTopK = 6

// ErrDimensionMismatch is returned when a query vector's length differs from
// the corpus dimension.
var ErrDimensionMismatch = errors.New("rag: query dimension does not match corpus")

// Filters is a conjunctive set of exact-match tag predicates
// (e.g. {"hmo": "maccabi", "tier": "gold"}). An empty or nil map matches
// every record.
type Filters map[string]string

// Matches reports whether r satisfies every predicate in f. A predicate on a
// key that is not a record tag matches nothing.
func (f Filters) Matches(r *corpus.Record) bool {
	for k, want := range f {
		got, ok := r.Tag(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Hit is a single ranked search result.
type Hit struct {
	// Record points into the index that produced the hit and must be treated
	// as read-only.
	Record *corpus.Record
	// Score is the cosine similarity between the query and Record.Embedding.
	Score float64
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher ranks corpus records against a query vector.
// Implementations must be safe to call from multiple goroutines.
type Searcher interface {
	// Search returns at most topK hits satisfying filters, ordered by
	// non-increasing score. Zero matching records is an empty result, not
	// an error.
	Search(ctx context.Context, query []float32, topK int, filters Filters) ([]Hit, error)
}
