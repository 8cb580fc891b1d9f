// Package audit provides a structured audit logger for CLI command invocations.
// It logs the command name, the config file source and the operational
// environment so operators can trace which model, corpus and credentials a
// run used without exposing secret values.
//
// Secrets are logged as presence/absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditEntry defines an env var to include in the audit log.
type auditEntry struct {
	// key is the environment variable name.
	key string
	// secret indicates the value should be redacted to presence/absence.
	secret bool
}

// auditKeys is the ordered list of env vars included in every audit log entry.
var auditKeys = []auditEntry{
	{"MODEL_PROVIDER", false},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"AZURE_OPENAI_DEPLOYMENT", false},
	{"AZURE_OPENAI_API_KEY", true},
	{"OPENAI_MODEL", false},
	{"OPENAI_API_KEY", true},
	{"OLLAMA_HOST", false},
	{"OLLAMA_MODEL", false},
	{"GEMINI_MODEL", false},
	{"GOOGLE_API_KEY", true},
	{"BEDROCK_MODEL_ID", false},
	{"BEDROCK_API_KEY", true},
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_MODEL", false},
	{"AZURE_EMBEDDING_DEPLOYMENT", false},
	{"EMBEDDING_API_KEY", true},
	{"HMOCHAT_CORPUS_DIR", false},
	{"HMOCHAT_SEARCH_BACKEND", false},
	{"HMOCHAT_TOP_K", false},
	{"QDRANT_HOST", false},
	{"QDRANT_COLLECTION", false},
	{"QDRANT_API_KEY", true},
	{"HMOCHAT_API_KEY", true},
	{"HMOCHAT_ADMIN_KEY", true},
	{"HMOCHAT_HISTORY_DB", false},
	{"AZURE_FORM_RECOGNIZER_ENDPOINT", false},
	{"AZURE_FORM_RECOGNIZER_KEY", true},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
	{"LOG_FILE", false},
	{"LANGFUSE_PUBLIC_KEY", true},
	{"LANGFUSE_SECRET_KEY", true},
}

// secretEnvKeys is derived from auditKeys plus credentials that are never
// audited but may be passed to SanitiseKey.
var secretEnvKeys = func() map[string]bool {
	m := map[string]bool{
		"AWS_SECRET_ACCESS_KEY": true,
		"AWS_SESSION_TOKEN":     true,
	}
	for _, e := range auditKeys {
		if e.secret {
			m[e.key] = true
		}
	}
	return m
}()

// LogCommandStart emits a structured audit log entry when a CLI command begins.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", Attrs(command, configPath)...)
}

// Attrs builds the audit attributes for a command: name, config file source
// and each audited env var, sanitised.
func Attrs(command string, configPath string) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, entry := range auditKeys {
		attrs = append(attrs, slog.String(entry.key, SanitiseKey(entry.key, os.Getenv(entry.key))))
	}
	return attrs
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
