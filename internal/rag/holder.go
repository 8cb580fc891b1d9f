package rag

import (
	"context"
	"errors"
	"sync/atomic"
)

// Holder publishes the current Index to concurrent readers. Readers call
// Search (or Index) without locks; a rebuild loads a complete new Index and
// swaps the pointer, so no reader ever sees a partially loaded corpus.
type Holder struct {
	ptr atomic.Pointer[Index]
}

// NewHolder returns a Holder publishing ix.
func NewHolder(ix *Index) *Holder {
	h := &Holder{}
	h.ptr.Store(ix)
	return h
}

// Index returns the currently published index.
func (h *Holder) Index() *Index { return h.ptr.Load() }

// Swap publishes ix and returns the previous index.
func (h *Holder) Swap(ix *Index) *Index { return h.ptr.Swap(ix) }

// Reload builds a fresh index with load and publishes it only on success.
// On failure the previously published index keeps serving.
func (h *Holder) Reload(ctx context.Context, load func(context.Context) (*Index, error)) (*Index, error) {
	ix, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if ix == nil {
		return nil, errors.New("rag: reload produced no index")
	}
	h.ptr.Store(ix)
	return ix, nil
}

// Search delegates to the currently published index.
func (h *Holder) Search(_ context.Context, query []float32, topK int, filters Filters) ([]Hit, error) {
	ix := h.ptr.Load()
	if ix == nil {
		return nil, errors.New("rag: no index loaded")
	}
	return ix.Search(query, topK, filters)
}
