package audit

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("AZURE_OPENAI_API_KEY", "abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("AZURE_FORM_RECOGNIZER_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
	if got := SanitiseKey("AWS_SESSION_TOKEN", "tok"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("HMOCHAT_CORPUS_DIR", "data/embeddings"); got != "data/embeddings" {
		t.Errorf("expected 'data/embeddings', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.hmochat/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.hmochat/config.yaml" {
			t.Errorf("expected '~/.hmochat/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_NeverLogsSecrets(t *testing.T) {
	t.Setenv("AZURE_OPENAI_API_KEY", "super-secret-value")
	t.Setenv("HMOCHAT_API_KEY", "another-secret")
	t.Setenv("MODEL_PROVIDER", "azure")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "super-secret-value") || strings.Contains(out, "another-secret") {
		t.Fatalf("audit record leaked a secret: %s", out)
	}
	for _, want := range []string{`"command":"serve"`, `"AZURE_OPENAI_API_KEY":"set"`, `"MODEL_PROVIDER":"azure"`, `"config_file":"none"`} {
		if !strings.Contains(out, want) {
			t.Errorf("audit record missing %s: %s", want, out)
		}
	}
}
