package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/tool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/hmochat-go/internal/conversation"
	"github.com/54b3r/hmochat-go/internal/embedder"
	"github.com/54b3r/hmochat-go/internal/provider"
	"github.com/54b3r/hmochat-go/internal/rag"
	"github.com/54b3r/hmochat-go/internal/retrieval"
	"github.com/54b3r/hmochat-go/internal/store"
	"github.com/54b3r/hmochat-go/internal/tools"
)

// Default data locations, relative to the working directory.
const (
	defaultHTMLDir      = "data/phase2_data"
	defaultProcessedDir = "data/processed"
	defaultCorpusDir    = "data/corpus"
)

// Search backends selectable via HMOCHAT_SEARCH_BACKEND.
const (
	backendMemory = "memory"
	backendQdrant = "qdrant"
)

// getEnvOrDefault returns the value of key or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns key parsed as an int, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// qdrantConfigFromEnv reads the QDRANT_* variables.
func qdrantConfigFromEnv(vectorSize int) *rag.QdrantConfig {
	return &rag.QdrantConfig{
		Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "hmo_services"),
		VectorSize: uint64(vectorSize), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// embeddingDimensions is the vector size of the configured embedder.
func embeddingDimensions() int {
	return getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(embedder.Backend()))
}

// searchStack is the retrieval side shared by serve, chat and search.
// Exactly one of holder and qdrant is set, depending on the backend.
type searchStack struct {
	service *retrieval.Service
	holder  *rag.Holder
	qdrant  *rag.QdrantIndex
	topK    int
}

// buildSearch wires the embedder, the selected search backend and the
// retrieval service. reg may be nil to skip retrieval metrics.
func buildSearch(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*searchStack, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	st := &searchStack{topK: getEnvInt("HMOCHAT_TOP_K", rag.DefaultTopK)}
	var searcher rag.Searcher

	switch backend := getEnvOrDefault("HMOCHAT_SEARCH_BACKEND", backendMemory); backend {
	case backendMemory:
		dir := getEnvOrDefault("HMOCHAT_CORPUS_DIR", defaultCorpusDir)
		ix, err := rag.LoadIndex(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load corpus from %s (run 'hmochat embed' first): %w", dir, err)
		}
		st.holder = rag.NewHolder(ix)
		searcher = st.holder
		log.Info("corpus loaded",
			slog.String("dir", dir),
			slog.Int("records", ix.Len()),
			slog.Int("dimension", ix.Dimension()),
		)
	case backendQdrant:
		qcfg := qdrantConfigFromEnv(embeddingDimensions())
		q, err := rag.NewQdrantIndex(ctx, qcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", qcfg.Host, qcfg.Port, err)
		}
		st.qdrant = q
		searcher = q
		log.Info("qdrant search backend ready",
			slog.String("host", qcfg.Host),
			slog.String("collection", qcfg.Collection),
		)
	default:
		return nil, fmt.Errorf("unknown HMOCHAT_SEARCH_BACKEND %q (want %s or %s)", backend, backendMemory, backendQdrant)
	}

	svc, err := retrieval.New(emb, searcher, retrieval.Options{TopK: st.topK, Registerer: reg})
	if err != nil {
		st.Close()
		return nil, err
	}
	st.service = svc
	return st, nil
}

// Close releases the Qdrant connection, if any.
func (s *searchStack) Close() {
	if s.qdrant != nil {
		_ = s.qdrant.Close()
	}
}

// buildMachine wires the chat model and the answering tools into a
// conversation machine.
func buildMachine(ctx context.Context, log *slog.Logger, search *searchStack) (*conversation.Machine, *provider.Config, error) {
	chatModel, pcfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(pcfg.Backend)),
		slog.String("model", pcfg.ModelName()),
	)

	m, err := conversation.New(ctx, &conversation.Config{
		Completer:        conversation.NewModelCompleter(chatModel),
		AnsweringTools:   []tool.InvokableTool{tools.NewInformationTool(search.service, search.topK)},
		MaxContextTokens: getEnvInt("HMOCHAT_MAX_CONTEXT_TOKENS", 0),
	})
	if err != nil {
		return nil, nil, err
	}
	return m, pcfg, nil
}

// openHistory opens the transcript store named by HMOCHAT_HISTORY_DB.
// Unset disables it; "default" means ~/.hmochat/history.db. A nil store
// and nil error mean history is disabled.
func openHistory(log *slog.Logger) (*store.SQLiteStore, error) {
	path := os.Getenv("HMOCHAT_HISTORY_DB")
	switch path {
	case "", "disabled":
		log.Debug("history: disabled")
		return nil, nil
	case "default":
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("history: store opened", slog.String("path", path))
	return s, nil
}
