package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/hmochat-go/internal/corpus"
	"github.com/54b3r/hmochat-go/internal/rag"
)

// fakeEmbedder returns a fixed vector, or err when set.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vec == nil {
		return [][]float32{}, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func record(hmo, tier string, vec ...float32) corpus.Record {
	return corpus.Record{
		ID:        corpus.RecordID("dental", hmo, tier),
		Service:   "dental",
		HMO:       hmo,
		Tier:      tier,
		Text:      "Category: dental",
		FilePath:  "out/dental/" + hmo + "/" + tier + ".json",
		Embedding: vec,
		Payload: corpus.Payload{
			Category:    "מרפאות שיניים",
			Description: "טיפולי שיניים",
			HMO:         DisplayHMO(hmo),
			Tier:        DisplayTier(tier),
			Services:    []corpus.Service{{Name: "בדיקה", Benefits: "חינם"}},
			Contact:     map[string]string{"phone": "*3555"},
		},
	}
}

func newTestService(t *testing.T, emb rag.Embedder, reg prometheus.Registerer) *Service {
	t.Helper()
	ix, err := rag.NewIndex([]corpus.Record{
		record("maccabi", "gold", 1, 0),
		record("maccabi", "silver", 1, 0.2),
		record("clalit", "gold", 0.9, 0.1),
	})
	require.NoError(t, err)
	svc, err := New(emb, rag.NewHolder(ix), Options{Registerer: reg})
	require.NoError(t, err)
	return svc
}

func counterValue(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "hmochat_retrieval_searches_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSearch_FiltersByDisplayValues(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &fakeEmbedder{vec: []float32{1, 0}}, nil)

	res := svc.Search(context.Background(), "שיניים", "מכבי", "זהב", 0)
	require.Empty(t, res.Error)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "מכבי", res.HMO)
	assert.Equal(t, "זהב", res.Tier)
	assert.Equal(t, "שיניים", res.Query)

	item := res.Results[0]
	assert.Equal(t, "מרפאות שיניים", item.Category)
	assert.Equal(t, "מכבי", item.HMO)
	assert.Equal(t, "זהב", item.Tier)
	assert.InDelta(t, 1.0, item.Similarity, 1e-9)
	assert.Equal(t, "*3555", item.Contact["phone"])
}

func TestSearch_UnknownFundIsEmptyNotError(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &fakeEmbedder{vec: []float32{1, 0}}, nil)

	res := svc.Search(context.Background(), "q", "מאוחדת", "", 0)
	assert.Empty(t, res.Error)
	assert.Zero(t, res.Count)
	assert.NotNil(t, res.Results)

	res = svc.Search(context.Background(), "q", "Leumit", "", 0)
	assert.Empty(t, res.Error)
	assert.Zero(t, res.Count)
}

func TestSearch_NoFiltersReturnsAll(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &fakeEmbedder{vec: []float32{1, 0}}, nil)

	res := svc.Search(context.Background(), "q", "", "", 10)
	assert.Equal(t, 3, res.Count)
}

func TestSearch_EmbeddingFailureDegrades(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()

	tests := []struct {
		name string
		emb  *fakeEmbedder
	}{
		{"backend error", &fakeEmbedder{err: errors.New(`POST "https://acme.openai.azure.com/embeddings": 503`)}},
		{"no vector", &fakeEmbedder{}},
	}
	for _, tc := range tests {
		svc := newTestService(t, tc.emb, nil)
		res := svc.Search(context.Background(), "q", "מכבי", "זהב", 0)
		assert.Equal(t, ErrMsgEmbedding, res.Error, tc.name)
		assert.NotContains(t, res.Error, "acme", tc.name)
		assert.Zero(t, res.Count, tc.name)
		assert.Empty(t, res.Results, tc.name)
	}

	svc := newTestService(t, &fakeEmbedder{err: errors.New("503")}, reg)
	svc.Search(context.Background(), "q", "", "", 0)
	assert.Equal(t, 1.0, counterValue(t, reg, outcomeEmbeddingError))
}

// failingSearcher always fails with err.
type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, []float32, int, rag.Filters) ([]rag.Hit, error) {
	return nil, f.err
}

func TestSearch_SearchFailureHidesCause(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	svc, err := New(&fakeEmbedder{vec: []float32{1, 0}},
		failingSearcher{err: errors.New("rpc error: code = Unavailable desc = qdrant.internal:6334 refused")},
		Options{Registerer: reg})
	require.NoError(t, err)

	res := svc.Search(context.Background(), "q", "מכבי", "זהב", 0)
	assert.Equal(t, ErrMsgSearch, res.Error)
	assert.NotContains(t, res.Error, "qdrant.internal")
	assert.Empty(t, res.Results)
	assert.Equal(t, 1.0, counterValue(t, reg, outcomeSearchError))
}

func TestSearch_Metrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	svc := newTestService(t, &fakeEmbedder{vec: []float32{1, 0}}, reg)

	svc.Search(context.Background(), "q", "מכבי", "", 0)
	svc.Search(context.Background(), "q", "מאוחדת", "", 0)

	assert.Equal(t, 1.0, counterValue(t, reg, outcomeOK))
	assert.Equal(t, 1.0, counterValue(t, reg, outcomeEmpty))
}

func TestResult_JSONShape(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, &fakeEmbedder{vec: []float32{1, 0}}, nil)

	b, err := json.Marshal(svc.Search(context.Background(), "q", "כללית", "זהב", 0))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.ElementsMatch(t, []string{"results", "count", "query", "hmo", "tier"}, keys(got))

	item := got["results"].([]any)[0].(map[string]any)
	assert.NotContains(t, item, "id")
	assert.NotContains(t, item, "text")
	assert.NotContains(t, item, "file_path")
	assert.Contains(t, item, "similarity")
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestNew_RejectsNil(t *testing.T) {
	t.Parallel()
	_, err := New(nil, &rag.Holder{}, Options{})
	assert.Error(t, err)
	_, err = New(&fakeEmbedder{}, nil, Options{})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		in, hmo, tier string
	}{
		{"מכבי", "maccabi", "מכבי"},
		{"זהב", "זהב", "gold"},
		{" כללית ", "clalit", "כללית"},
		{"Maccabi", "maccabi", "maccabi"},
		{"GOLD", "gold", "gold"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.hmo, NormalizeHMO(ctx, tc.in), tc.in)
		assert.Equal(t, tc.tier, NormalizeTier(ctx, tc.in), tc.in)
	}

	assert.Equal(t, "מאוחדת", DisplayHMO("meuhedet"))
	assert.Equal(t, "ארד", DisplayTier("bronze"))
	assert.Equal(t, "unknown", DisplayTier("unknown"))
}
