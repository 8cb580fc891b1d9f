// Package knowledge builds the retrieval corpus. It converts the HTML
// knowledge-base pages into per-(hmo, tier) JSON payloads, then flattens,
// embeds and persists those payloads as a corpus directory, optionally
// mirroring the result into Qdrant. This pipeline is invoked by the
// `hmochat kb build` and `hmochat embed` CLI commands.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/hmochat-go/internal/corpus"
	"github.com/54b3r/hmochat-go/internal/rag"
)

// Exporter mirrors a freshly built index into an external store.
// *rag.QdrantIndex satisfies it.
type Exporter interface {
	Upsert(ctx context.Context, ix *rag.Index) error
}

// Config holds the configuration for the embedding pipeline.
type Config struct {
	// BatchSize is the number of texts sent per embedding request.
	// Defaults to 16 if zero.
	BatchSize int

	// Concurrency bounds the number of in-flight embedding requests.
	// Defaults to 4 if zero.
	Concurrency int
}

// Pipeline orchestrates the read → flatten → embed → write flow for a
// processed payload tree.
type Pipeline struct {
	// embedder converts flattened payloads into dense vectors.
	embedder rag.Embedder

	// exporter is optional; when set, the built index is upserted into it.
	exporter Exporter

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline. exporter may be nil.
func NewPipeline(embedder rag.Embedder, exporter Exporter, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("knowledge: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Pipeline{embedder: embedder, exporter: exporter, cfg: cfg}, nil
}

// Build embeds every payload under processedDir and writes the corpus to
// outDir. Records are ordered by payload path so rebuilding the same tree
// yields the same row order. Progress is reported via the optional callback.
func (p *Pipeline) Build(ctx context.Context, processedDir, outDir string, progress func(msg string)) (*rag.Index, error) {
	if progress == nil {
		progress = func(string) {}
	}

	records, err := p.collect(processedDir)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("knowledge: no payloads found under %s", processedDir)
	}
	progress(fmt.Sprintf("collected %d payloads from %s", len(records), processedDir))

	if err := p.embed(ctx, records, progress); err != nil {
		return nil, err
	}

	ix, err := rag.NewIndex(records)
	if err != nil {
		return nil, fmt.Errorf("knowledge: %w", err)
	}
	if err := corpus.Write(outDir, records); err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("wrote %d records (dim %d) to %s", ix.Len(), ix.Dimension(), outDir))

	if p.exporter != nil {
		if err := p.exporter.Upsert(ctx, ix); err != nil {
			return nil, fmt.Errorf("knowledge: export failed: %w", err)
		}
		progress(fmt.Sprintf("exported %d records", ix.Len()))
	}
	return ix, nil
}

// collect reads every <service>/<hmo>/<tier>.json payload under root.
func (p *Pipeline) collect(root string) ([]corpus.Record, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: walking %s: %w", root, err)
	}
	sort.Strings(paths)

	records := make([]corpus.Record, 0, len(paths))
	for _, path := range paths {
		meta, err := InferMetadata(root, path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("knowledge: reading %s: %w", path, err)
		}
		var pl corpus.Payload
		if err := json.Unmarshal(data, &pl); err != nil {
			return nil, fmt.Errorf("knowledge: decoding %s: %w", path, err)
		}
		records = append(records, corpus.Record{
			ID:       corpus.RecordID(meta.Service, meta.HMO, meta.Tier),
			Service:  meta.Service,
			HMO:      meta.HMO,
			Tier:     meta.Tier,
			FilePath: filepath.ToSlash(path),
			Text:     corpus.FlattenText(pl),
			Payload:  pl,
		})
	}
	return records, nil
}

// embed fills records[i].Embedding in batches, running up to
// cfg.Concurrency batches at once. The first failure cancels the rest.
func (p *Pipeline) embed(ctx context.Context, records []corpus.Record, progress func(string)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	var mu sync.Mutex

	for start := 0; start < len(records); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(records))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for i := start; i < end; i++ {
				texts = append(texts, records[i].Text)
			}
			vecs, err := p.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("knowledge: embedding records %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("knowledge: embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			for i, v := range vecs {
				records[start+i].Embedding = v
			}
			mu.Lock()
			progress(fmt.Sprintf("embedded records %d-%d", start, end-1))
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
