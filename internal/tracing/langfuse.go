// Package tracing wires optional Langfuse tracing into every Eino model call.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/hmochat-go/internal/version"
)

// Setup registers a global Langfuse callback handler when LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are set, so both completions of a chat turn and
// form extractions are traced. The returned flush function must be called
// before process exit. When Langfuse is not configured it returns a no-op
// flush and false.
func Setup() (flush func(), enabled bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return func() {}, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "hmochat",
		Release:   version.Version,
	})
	callbacks.AppendGlobalHandlers(handler)

	return flusher, true
}
