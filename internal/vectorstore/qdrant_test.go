package vectorstore

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"testing"
)

// TestQdrantStore_AgreesWithMemoryStoreOnTop1 is the property test spec.md
// §4.2 requires: the optional Qdrant accelerator must pick the same top-1
// neighbour as the mandated exact in-memory backend at this system's scale.
// It needs a real Qdrant instance, so it is skipped unless TEST_QDRANT_DSN
// is set (same pattern as go-llama's Postgres integration test).
func TestQdrantStore_AgreesWithMemoryStoreOnTop1(t *testing.T) {
	dsn := os.Getenv("TEST_QDRANT_DSN")
	if dsn == "" {
		t.Skip("set TEST_QDRANT_DSN to a reachable Qdrant instance to run this property test")
	}

	const dimension = 32
	collection := fmt.Sprintf("taskloop_top1_property_%d", rand.Int63())

	qs, err := NewQdrant(dsn, collection, dimension, "cosine")
	if err != nil {
		t.Fatalf("NewQdrant: %v", err)
	}

	mem := NewMemory()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	vectors := make(map[Key][]float32, 200)
	for i := 0; i < 200; i++ {
		key := Key{TaskName: fmt.Sprintf("task_%d", i%10), StepID: i}
		vec := randomUnitVector(rng, dimension)
		vectors[key] = vec
		if err := qs.Upsert(ctx, key, vec); err != nil {
			t.Fatalf("qdrant Upsert: %v", err)
		}
		if err := mem.Upsert(ctx, key, vec); err != nil {
			t.Fatalf("memory Upsert: %v", err)
		}
	}

	for i := 0; i < 20; i++ {
		query := randomUnitVector(rng, dimension)

		memResults, err := mem.Search(ctx, query, 1)
		if err != nil {
			t.Fatalf("memory Search: %v", err)
		}
		qdrantResults, err := qs.Search(ctx, query, 1)
		if err != nil {
			t.Fatalf("qdrant Search: %v", err)
		}
		if len(memResults) != 1 || len(qdrantResults) != 1 {
			t.Fatalf("expected exactly one top-1 result from each backend")
		}
		if memResults[0].Key != qdrantResults[0].Key {
			t.Fatalf("top-1 disagreement on query %d: memory=%+v qdrant=%+v", i, memResults[0], qdrantResults[0])
		}
	}
}

func randomUnitVector(rng *rand.Rand, dimension int) []float32 {
	v := make([]float32, dimension)
	var sumSq float64
	for i := range v {
		x := rng.Float64()*2 - 1
		v[i] = float32(x)
		sumSq += x * x
	}
	norm := float32(1)
	if sumSq > 0 {
		norm = float32(1 / math.Sqrt(sumSq))
	}
	for i := range v {
		v[i] *= norm
	}
	return v
}
