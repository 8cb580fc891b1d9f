// Package retrieval turns a free-text question plus a health fund and
// insurance tier into a labelled, JSON-ready result set. Failures of the
// embedding backend degrade to an empty result carrying an error string so
// the conversation layer can tell the model that nothing was found.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/hmochat-go/internal/corpus"
	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/rag"
)

// ErrEmbedding marks a failed or empty query embedding.
var ErrEmbedding = errors.New("query embedding failed")

// Item is one search hit as handed to the model: the stored payload merged
// with its similarity score.
type Item struct {
	Category    string            `json:"category"`
	Description string            `json:"description"`
	HMO         string            `json:"hmo"`
	Tier        string            `json:"tier"`
	Similarity  float64           `json:"similarity"`
	Services    []corpus.Service  `json:"services"`
	Contact     map[string]string `json:"contact,omitempty"`
}

// Result is the structured output of Search.
type Result struct {
	Results []Item `json:"results"`
	Count   int    `json:"count"`
	Query   string `json:"query"`
	HMO     string `json:"hmo"`
	Tier    string `json:"tier"`
	Error   string `json:"error,omitempty"`
}

// Options tunes a Service. The zero value is usable.
type Options struct {
	// TopK is used when Search is called with topK <= 0.
	TopK int
	// Registerer receives the retrieval metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// Service embeds the query text, searches the corpus with tag filters and
// reshapes the hits.
type Service struct {
	embedder rag.Embedder
	searcher rag.Searcher
	topK     int
	metrics  *metrics
}

// Result.Error values. The cause is logged, never returned.
const (
	ErrMsgEmbedding = "embedding unavailable"
	ErrMsgSearch    = "search unavailable"
)

// New constructs a Service.
func New(embedder rag.Embedder, searcher rag.Searcher, opts Options) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("retrieval: searcher must not be nil")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	return &Service{
		embedder: embedder,
		searcher: searcher,
		topK:     topK,
		metrics:  newMetrics(opts.Registerer),
	}, nil
}

// Search looks up query for the given health fund and tier display values.
// It never returns an error: embedding and search failures are reported in
// Result.Error with an empty result list.
func (s *Service) Search(ctx context.Context, query, hmo, tier string, topK int) Result {
	log := logging.FromContext(ctx)
	if topK <= 0 {
		topK = s.topK
	}

	res := Result{Results: []Item{}, Query: query, HMO: hmo, Tier: tier}

	filters := rag.Filters{}
	if hmo != "" {
		filters["hmo"] = NormalizeHMO(ctx, hmo)
	}
	if tier != "" {
		filters["tier"] = NormalizeTier(ctx, tier)
	}

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		log.Error("retrieval: embedding failed",
			slog.String("query", query),
			slog.Any("filters", filters),
			slog.String("error", err.Error()),
		)
		s.metrics.searches.WithLabelValues(outcomeEmbeddingError).Inc()
		res.Error = ErrMsgEmbedding
		return res
	}

	hits, err := s.searcher.Search(ctx, vec, topK, filters)
	if err != nil {
		log.Error("retrieval: search failed",
			slog.String("query", query),
			slog.Any("filters", filters),
			slog.String("error", err.Error()),
		)
		s.metrics.searches.WithLabelValues(outcomeSearchError).Inc()
		res.Error = ErrMsgSearch
		return res
	}

	for _, h := range hits {
		res.Results = append(res.Results, toItem(h))
	}
	res.Count = len(res.Results)

	outcome := outcomeOK
	if res.Count == 0 {
		outcome = outcomeEmpty
	}
	s.metrics.searches.WithLabelValues(outcome).Inc()
	s.metrics.results.Observe(float64(res.Count))

	log.Debug("retrieval: search complete",
		slog.String("query", query),
		slog.Any("filters", filters),
		slog.Int("count", res.Count),
	)
	return res
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: no vector returned", ErrEmbedding)
	}
	return vecs[0], nil
}

func toItem(h rag.Hit) Item {
	p := h.Record.Payload
	services := p.Services
	if services == nil {
		services = []corpus.Service{}
	}
	return Item{
		Category:    p.Category,
		Description: p.Description,
		HMO:         p.HMO,
		Tier:        p.Tier,
		Similarity:  h.Score,
		Services:    services,
		Contact:     p.Contact,
	}
}
