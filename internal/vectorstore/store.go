// Package vectorstore provides the pluggable nearest-neighbour backend
// behind the embedding index (C2). Exact in-memory cosine similarity is
// the mandated backend at the knowledge-base scale this system targets
// (hundreds of entries); an optional Qdrant-backed accelerator must agree
// with it on top-1 results at that scale.
package vectorstore

import "context"

// Result is a single nearest-neighbour hit.
type Result struct {
	Key        Key
	Similarity float64 // cosine(q, v), clamped to [0, 1]
}

// Key identifies one (task, step) entry in the index.
type Key struct {
	TaskName string
	StepID   int
}

// Store is the minimum interface for a pluggable vector backend.
type Store interface {
	// Upsert inserts or replaces the vector for key. vector must already
	// be L2-normalised by the caller.
	Upsert(ctx context.Context, key Key, vector []float32) error
	// Search returns the top-k nearest neighbours to query (also assumed
	// L2-normalised), ordered by descending similarity.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	// Len reports how many entries are currently indexed.
	Len() int
}
