// Package embed turns text into vectors. It defines the Backend interface
// the scheduler drives, two real implementations (a local Ollama server
// and a remote OpenAI-compatible API), and a dry-run placeholder. The
// scheduler owns batching, concurrency, retries, and write-back; backends
// only translate one batch of texts into one batch of vectors.
package embed

import "context"

// Backend embeds batches of text.
type Backend interface {
	// Name identifies the backend in logs and progress output.
	Name() string
	// Dims is the vector dimensionality the backend produces.
	Dims() int
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Truncate cuts s to at most max runes. Embedding providers reject inputs
// over their token window; cutting by runes rather than bytes never splits
// a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
