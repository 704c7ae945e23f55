package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// remoteMaxChars bounds input size for the hosted model's token window.
const remoteMaxChars = 20000

// Remote embeds against an OpenAI-compatible /v1/embeddings endpoint. A
// client-side rate limiter keeps overnight runs under the provider's
// request quota instead of burning retry budget on 429s.
type Remote struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	limiter *rate.Limiter
	client  *http.Client
}

// NewRemote creates a Remote backend. requestsPerMinute caps the call
// rate; zero disables client-side limiting.
func NewRemote(baseURL, apiKey, model string, dims int, requestsPerMinute int) *Remote {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		limiter: limiter,
		client: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (r *Remote) Name() string { return "remote:" + r.model }
func (r *Remote) Dims() int    { return r.dims }

type remoteEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResp struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch sends all texts in one request. The API documents no ordering
// guarantee on the response array, so vectors are placed by their index
// field, never by position.
func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: remote rate wait: %w", err)
		}
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = Truncate(t, remoteMaxChars)
	}

	body, _ := json.Marshal(remoteEmbedReq{Model: r.model, Input: input})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: remote call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: remote status %d: %s", resp.StatusCode, msg)
	}

	var result remoteEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: remote decode: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embed: remote returned %d vectors for %d texts", len(result.Data), len(texts))
	}

	sort.Slice(result.Data, func(i, j int) bool { return result.Data[i].Index < result.Data[j].Index })
	out := make([][]float32, len(texts))
	for i, d := range result.Data {
		if d.Index != i {
			return nil, fmt.Errorf("embed: remote response missing index %d", i)
		}
		out[i] = d.Embedding
	}
	return out, nil
}
