package rag

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/54b3r/hmochat-go/internal/corpus"
)

// Index is an immutable in-memory corpus with exact linear-scan search.
// It is never mutated after NewIndex returns, so concurrent readers need no
// locking; rebuilding means constructing a new Index and publishing it
// through a Holder.
type Index struct {
	records []corpus.Record
	norms   []float64
	byID    map[string]int
	dim     int
}

// NewIndex builds an Index over records, keeping their order as the
// tie-break order. All embeddings must share one length.
func NewIndex(records []corpus.Record) (*Index, error) {
	ix := &Index{
		records: slices.Clone(records),
		norms:   make([]float64, len(records)),
		byID:    make(map[string]int, len(records)),
	}
	for i := range ix.records {
		r := &ix.records[i]
		if i == 0 {
			ix.dim = len(r.Embedding)
		}
		if len(r.Embedding) != ix.dim {
			return nil, fmt.Errorf("rag: %w: record %q has dimension %d, corpus dimension is %d",
				corpus.ErrCorpusLoad, r.ID, len(r.Embedding), ix.dim)
		}
		if _, dup := ix.byID[r.ID]; dup {
			return nil, fmt.Errorf("rag: %w: duplicate id %q", corpus.ErrCorpusLoad, r.ID)
		}
		ix.byID[r.ID] = i
		ix.norms[i] = norm(r.Embedding)
	}
	return ix, nil
}

// LoadIndex reads a corpus directory and indexes it.
func LoadIndex(dir string) (*Index, error) {
	records, err := corpus.Load(dir)
	if err != nil {
		return nil, err
	}
	return NewIndex(records)
}

// Len returns the number of records.
func (ix *Index) Len() int { return len(ix.records) }

// Dimension returns the shared embedding length (0 for an empty index).
func (ix *Index) Dimension() int { return ix.dim }

// Record returns the record with the given id.
func (ix *Index) Record(id string) (*corpus.Record, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return nil, false
	}
	return &ix.records[i], true
}

// Records returns the records in insertion order. The slice must not be
// modified.
func (ix *Index) Records() []corpus.Record { return ix.records }

// FilterIDs returns the ids of every record matching filters, in order.
func (ix *Index) FilterIDs(filters Filters) []string {
	var ids []string
	for i := range ix.records {
		if filters.Matches(&ix.records[i]) {
			ids = append(ids, ix.records[i].ID)
		}
	}
	return ids
}

// scored is a candidate during ranking.
type scored struct {
	pos   int
	score float64
	ok    bool
}

// Search applies filters, scores every remaining candidate by cosine
// similarity, and returns the best topK. Candidates with an undefined score
// (zero-norm vectors) rank after all others. Equal scores keep corpus order.
func (ix *Index) Search(query []float32, topK int, filters Filters) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(ix.records) == 0 {
		return []Hit{}, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), ix.dim)
	}

	qn := norm(query)
	candidates := make([]scored, 0, len(ix.records))
	for i := range ix.records {
		r := &ix.records[i]
		if !filters.Matches(r) {
			continue
		}
		s, ok := cosine(query, r.Embedding, qn, ix.norms[i])
		candidates = append(candidates, scored{pos: i, score: s, ok: ok})
	}

	slices.SortStableFunc(candidates, func(a, b scored) int {
		if a.ok != b.ok {
			if a.ok {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.score, a.score)
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = Hit{Record: &ix.records[c.pos], Score: c.score}
	}
	return hits, nil
}
