package rag

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/hmochat-go/internal/corpus"
)

// pointNamespace seeds the deterministic point UUIDs derived from record ids.
var pointNamespace = uuid.MustParse("6f1c2b84-3d0e-4b9a-9a57-2f0d3c8e51a4")

// Payload keys written for every point.
const (
	payloadID      = "id"
	payloadService = "service"
	payloadHMO     = "hmo"
	payloadTier    = "tier"
	payloadText    = "text"
	payloadDoc     = "payload"
	payloadRow     = "row"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex is a Searcher backed by a Qdrant collection. Filters are pushed
// down as exact keyword matches on the record tags, so the collection ranks
// only the records an in-memory Index would consider.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant, ensuring the target collection exists
// (creating it if necessary).
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "hmo_services"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	q := &QdrantIndex{client: client, cfg: cfg}
	if err := q.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

// Client exposes the gRPC client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// ensureCollection creates the Qdrant collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if q.cfg.VectorSize == 0 {
		return fmt.Errorf("qdrant: collection %q does not exist and no vector size was given", q.cfg.Collection)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// PointID returns the deterministic Qdrant point id for a record id.
func PointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

// Upsert writes every record of ix to the collection. Re-running it with the
// same corpus overwrites points in place.
func (q *QdrantIndex) Upsert(ctx context.Context, ix *Index) error {
	records := ix.Records()
	points := make([]*qdrant.PointStruct, 0, len(records))
	for i := range records {
		r := &records[i]
		doc, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("qdrant: encoding payload for %q: %w", r.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadID:      r.ID,
				payloadService: r.Service,
				payloadHMO:     r.HMO,
				payloadTier:    r.Tier,
				payloadText:    r.Text,
				payloadDoc:     string(doc),
				payloadRow:     int64(i),
			}),
		})
	}
	if len(points) == 0 {
		return nil
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// qdrantFilter converts tag predicates into a Must clause. An unknown tag key
// can never match, which the caller handles before reaching Qdrant.
func qdrantFilter(filters Filters) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	must := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, qdrant.NewMatch(k, filters[k]))
	}
	return &qdrant.Filter{Must: must}
}

// knownTag reports whether key is a filterable record tag.
func knownTag(key string) bool {
	_, ok := (&corpus.Record{}).Tag(key)
	return ok
}

// Search queries the collection with the filters pushed down and returns at
// most topK hits. Qdrant does not guarantee a tie order, so hits with equal
// scores are re-sorted by their corpus row.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, topK int, filters Filters) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	for k := range filters {
		if !knownTag(k) {
			return []Hit{}, nil
		}
	}

	limit := uint64(topK)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         qdrantFilter(filters),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	type rowHit struct {
		hit Hit
		row int64
	}
	rows := make([]rowHit, 0, len(results))
	for _, p := range results {
		rec, row, err := recordFromPayload(p.GetPayload())
		if err != nil {
			return nil, err
		}
		rows = append(rows, rowHit{hit: Hit{Record: rec, Score: float64(p.GetScore())}, row: row})
	}
	slices.SortStableFunc(rows, func(a, b rowHit) int {
		if c := cmp.Compare(b.hit.Score, a.hit.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.row, b.row)
	})

	hits := make([]Hit, len(rows))
	for i, r := range rows {
		hits[i] = r.hit
	}
	return hits, nil
}

// recordFromPayload rebuilds a record (without its embedding) from a point
// payload written by Upsert.
func recordFromPayload(p map[string]*qdrant.Value) (*corpus.Record, int64, error) {
	str := func(k string) string {
		if v, ok := p[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	rec := &corpus.Record{
		ID:      str(payloadID),
		Service: str(payloadService),
		HMO:     str(payloadHMO),
		Tier:    str(payloadTier),
		Text:    str(payloadText),
	}
	if doc := str(payloadDoc); doc != "" {
		if err := json.Unmarshal([]byte(doc), &rec.Payload); err != nil {
			return nil, 0, fmt.Errorf("qdrant: decoding payload for %q: %w", rec.ID, err)
		}
	}
	var row int64
	if v, ok := p[payloadRow]; ok {
		row = v.GetIntegerValue()
	}
	return rec, row, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
