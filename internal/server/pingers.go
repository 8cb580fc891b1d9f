package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/hmochat-go/internal/provider"
	"github.com/54b3r/hmochat-go/internal/rag"
)

// LLMPinger probes the chat backend through its provider health check, which
// costs no tokens.
type LLMPinger struct {
	check provider.HealthChecker
	name  string
}

// NewLLMPinger constructs an LLMPinger. A nil check (backends without a
// cheap probe, e.g. bedrock) always reports healthy.
func NewLLMPinger(check provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{check: check, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the provider health check.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.check == nil {
		return nil
	}
	if err := p.check.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CorpusPinger reports whether the in-memory corpus is loaded and non-empty.
type CorpusPinger struct {
	holder *rag.Holder
}

// NewCorpusPinger constructs a CorpusPinger over h.
func NewCorpusPinger(h *rag.Holder) *CorpusPinger {
	return &CorpusPinger{holder: h}
}

// Name returns the dependency label used in readiness responses.
func (p *CorpusPinger) Name() string { return "corpus" }

// Ping fails when no index is published or the index has no records.
func (p *CorpusPinger) Ping(_ context.Context) error {
	ix := p.holder.Index()
	if ix == nil {
		return errors.New("no corpus loaded")
	}
	if ix.Len() == 0 {
		return errors.New("corpus is empty")
	}
	return nil
}
