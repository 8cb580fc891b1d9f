package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/hmochat-go/internal/corpus"
	"github.com/54b3r/hmochat-go/internal/embedder"
	"github.com/54b3r/hmochat-go/internal/knowledge"
	"github.com/54b3r/hmochat-go/internal/logging"
	"github.com/54b3r/hmochat-go/internal/rag"
)

// NewEmbedCmd constructs the `hmochat embed` command, which runs the offline
// embedding pipeline over the processed payload tree.
func NewEmbedCmd() *cobra.Command {
	var processedDir, corpusDir string
	var toQdrant bool
	var batchSize, concurrency int

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed the processed knowledge base into a searchable corpus",
		Long: `Walk <processed>/<service>/<hmo>/<tier>.json, embed each payload and write
the corpus directory read by 'hmochat serve' and 'hmochat chat':

  embeddings_metadata.csv   id, service, hmo, tier, file_path, text
  embeddings.npy            one float32 row per record
  json_data/{id}.json       the payload returned on a match

Use the same EMBEDDING_* settings here and when serving. With --qdrant the
records are also upserted into the QDRANT_COLLECTION collection.

Examples:
  hmochat embed
  EMBEDDING_PROVIDER=ollama hmochat embed --out /tmp/corpus
  hmochat embed --qdrant`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if processedDir == "" {
				processedDir = getEnvOrDefault("HMOCHAT_PROCESSED_DIR", defaultProcessedDir)
			}
			if corpusDir == "" {
				corpusDir = getEnvOrDefault("HMOCHAT_CORPUS_DIR", defaultCorpusDir)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("embed: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", embedder.Backend()))

			var exporter knowledge.Exporter
			if toQdrant {
				qcfg := qdrantConfigFromEnv(embeddingDimensions())
				q, err := rag.NewQdrantIndex(ctx, qcfg)
				if err != nil {
					return fmt.Errorf("embed: failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
				}
				defer q.Close()
				exporter = q
				log.Info("qdrant export enabled", slog.String("collection", qcfg.Collection))
			}

			pipeline, err := knowledge.NewPipeline(emb, exporter, &knowledge.Config{
				BatchSize:   batchSize,
				Concurrency: concurrency,
			})
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}

			ix, err := pipeline.Build(ctx, processedDir, corpusDir, func(msg string) { log.Info(msg) })
			if err != nil {
				return fmt.Errorf("embed: %w", err)
			}
			log.Info("corpus written",
				slog.String("dir", corpusDir),
				slog.Int("records", ix.Len()),
				slog.Int("dimension", ix.Dimension()),
			)
			fmt.Fprintln(cmd.OutOrStdout(), corpus.Summarise(ix.Records()))
			return nil
		},
	}

	cmd.Flags().StringVar(&processedDir, "in", "", "Processed payload tree (default: HMOCHAT_PROCESSED_DIR or "+defaultProcessedDir+")")
	cmd.Flags().StringVar(&corpusDir, "out", "", "Corpus output directory (default: HMOCHAT_CORPUS_DIR or "+defaultCorpusDir+")")
	cmd.Flags().BoolVar(&toQdrant, "qdrant", false, "Also upsert the corpus into Qdrant")
	cmd.Flags().IntVar(&batchSize, "batch-size", 16, "Texts per embedding request")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Concurrent embedding requests")

	return cmd
}
