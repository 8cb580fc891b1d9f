package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Search outcomes recorded on hmochat_retrieval_searches_total.
const (
	outcomeOK             = "ok"
	outcomeEmpty          = "empty"
	outcomeEmbeddingError = "embedding_error"
	outcomeSearchError    = "search_error"
)

// metrics holds the retrieval collectors. A nil Registerer yields working
// but unregistered collectors.
type metrics struct {
	searches *prometheus.CounterVec
	results  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hmochat",
			Subsystem: "retrieval",
			Name:      "searches_total",
			Help:      "Retrieval searches by outcome.",
		}, []string{"outcome"}),
		results: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hmochat",
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of results returned per successful search.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 8, 10, 20},
		}),
	}
}
