package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// DryRun produces deterministic placeholder vectors without any network
// calls. The scheduler uses it to rehearse a full embedding pass: paging,
// concurrency, and counting behave exactly as with a real backend, but
// nothing is written back.
type DryRun struct {
	dims int
}

// NewDryRun creates a placeholder backend with the given dimensionality.
func NewDryRun(dims int) *DryRun {
	return &DryRun{dims: dims}
}

func (d *DryRun) Name() string { return "dry-run" }
func (d *DryRun) Dims() int    { return d.dims }

// EmbedBatch hashes each text into a unit vector. Identical text always
// produces an identical vector.
func (d *DryRun) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		h.Write([]byte(t))
		seed := h.Sum64()

		v := make([]float32, d.dims)
		var norm float64
		for j := range v {
			seed = seed*6364136223846793005 + 1442695040888963407
			f := float64(int64(seed>>11)) / float64(1<<52)
			v[j] = float32(f)
			norm += f * f
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range v {
				v[j] *= scale
			}
		}
		out[i] = v
	}
	return out, nil
}
