package embedindex

import (
	"context"
	"hash/fnv"
	"math"
)

// deterministicEmbedder is a lightweight, dependency-free embedder used in
// tests and as a safe default so the engine is exercisable without a live
// embedding server. It hashes byte 3-grams into a fixed-size vector; it is
// deterministic for identical input text (spec I4).
type deterministicEmbedder struct {
	dim  int
	name string
}

// NewDeterministic constructs a deterministic embedder of the given
// dimension.
func NewDeterministic(dim int) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, name: "deterministic-v1"}
}

func (d *deterministicEmbedder) ModelID() string { return d.name }
func (d *deterministicEmbedder) Dimension() int  { return d.dim }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		addGram(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(b[i:i+3], v)
		}
	}
	return v
}

func addGram(gram []byte, v []float32) {
	h := fnv.New64a()
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}

// normalize returns an L2-normalised copy of v. Zero vectors are returned
// unchanged (spec I5 folds that case into similarity 0, not a panic).
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
