package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nybblers/redditdemand/pkg/vec"
)

// localMaxChars bounds input size for the local model's context window.
const localMaxChars = 8000

// Local embeds against an Ollama server's batch endpoint. Vectors are
// L2-normalized before return so cosine similarity reduces to a dot
// product downstream.
type Local struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewLocal creates a Local backend for the Ollama server at baseURL.
func NewLocal(baseURL, model string, dims int) *Local {
	return &Local{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (l *Local) Name() string { return "local:" + l.model }
func (l *Local) Dims() int    { return l.dims }

type localEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch sends all texts in one request.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = Truncate(t, localMaxChars)
	}

	body, _ := json.Marshal(localEmbedReq{Model: l.model, Input: input})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: local request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: local call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: local status %d: %s", resp.StatusCode, msg)
	}

	var result localEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: local decode: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: local returned %d vectors for %d texts", len(result.Embeddings), len(texts))
	}

	for _, v := range result.Embeddings {
		vec.Normalize(v)
	}
	return result.Embeddings, nil
}
