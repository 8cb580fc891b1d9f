package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpHealthCheck probes a backend with a metadata GET that costs no tokens.
type httpHealthCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck issues the probe and treats any 2xx as healthy.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check request: %w", err)
	}
	for k, v := range h.header {
		req.Header[k] = v
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider: health check: HTTP %d", resp.StatusCode)
	}
	return nil
}

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// NewHealthChecker returns a zero-cost probe for the configured backend, or
// nil when the backend has none (Bedrock). A nil checker makes readiness
// fall back to a one-token Generate call.
func NewHealthChecker(cfg *Config) HealthChecker {
	client := &http.Client{Timeout: 5 * time.Second}
	h := &httpHealthCheck{header: http.Header{}, client: client}

	switch cfg.Backend {
	case BackendOllama:
		h.url = strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"
	case BackendOpenAI:
		h.url = "https://api.openai.com/v1/models"
		h.header.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)
	case BackendAzure:
		az := cfg.AzureOpenAI
		h.url = strings.TrimRight(az.Endpoint, "/") + "/openai/models?api-version=" + url.QueryEscape(az.APIVersion)
		h.header.Set("api-key", az.APIKey)
	case BackendGemini:
		h.url = geminiBaseURL + "/models/" + url.PathEscape(cfg.Gemini.Model)
		h.header.Set("x-goog-api-key", cfg.Gemini.APIKey)
	default:
		return nil
	}
	return h
}
