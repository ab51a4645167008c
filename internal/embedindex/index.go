package embedindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"taskloop/internal/embedcache"
	"taskloop/internal/knowledge"
	"taskloop/internal/vectorstore"
)

// Index is the embedding index over every (task_name, step_id) entry in a
// knowledge.Store (component C2).
type Index struct {
	embedder Embedder
	store    vectorstore.Store
	cache    embedcache.Cache
}

// New constructs an Index over an empty vector store; call Build to
// populate it from a knowledge.Store.
func New(embedder Embedder, store vectorstore.Store, cache embedcache.Cache) *Index {
	return &Index{embedder: embedder, store: store, cache: cache}
}

// NormalizeQuery collapses internal whitespace and trims the input so that
// encode is commutative with whitespace normalisation (spec §8):
// Encode("  foo  bar  ") == Encode("foo bar").
func NormalizeQuery(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// Encode returns the L2-normalised embedding for text, consulting the disk
// cache first and populating it on miss.
func (idx *Index) Encode(ctx context.Context, text string) ([]float32, error) {
	normalized := NormalizeQuery(text)
	model := idx.embedder.ModelID()
	if idx.cache != nil {
		if v, ok := idx.cache.Get(ctx, normalized, model); ok {
			return v, nil
		}
	}
	vecs, err := idx.embedder.EmbedBatch(ctx, []string{normalized})
	if err != nil {
		return nil, fmt.Errorf("embedindex: encode: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedindex: encoder returned no vectors")
	}
	v := normalize(vecs[0])
	if idx.cache != nil {
		idx.cache.Put(ctx, normalized, model, v)
	}
	return v, nil
}

// Build computes and indexes the embedding for every step of every task in
// store. Every step goes through Encode, so a vector already in the disk
// cache is reused rather than recomputed; the vector is also stored on the
// step via SetEmbedding.
func (idx *Index) Build(ctx context.Context, knowledgeStore *knowledge.Store) error {
	for _, task := range knowledgeStore.AllTasks() {
		for _, step := range task.Steps {
			v, err := idx.Encode(ctx, step.ComposedText())
			if err != nil {
				return fmt.Errorf("embedindex: build index for %s/%d: %w", task.TaskName, step.StepID, err)
			}
			step.SetEmbedding(v)
			key := vectorstore.Key{TaskName: task.TaskName, StepID: step.StepID}
			if err := idx.store.Upsert(ctx, key, v); err != nil {
				return fmt.Errorf("embedindex: upsert %s/%d: %w", task.TaskName, step.StepID, err)
			}
		}
	}
	log.Info().Int("entries", idx.store.Len()).Msg("embedindex_built")
	return nil
}

// SearchResult is one ranked candidate from Search.
type SearchResult struct {
	TaskName   string
	StepID     int
	Similarity float64
}

// Search encodes queryText and returns the top-k nearest (task, step)
// entries by cosine similarity, similarity = max(0, cosine(q, v)) per
// spec §4.2.
func (idx *Index) Search(ctx context.Context, queryText string, topK int) ([]SearchResult, error) {
	qv, err := idx.Encode(ctx, queryText)
	if err != nil {
		return nil, err
	}
	hits, err := idx.store.Search(ctx, qv, topK)
	if err != nil {
		return nil, fmt.Errorf("embedindex: search: %w", err)
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchResult{TaskName: h.Key.TaskName, StepID: h.Key.StepID, Similarity: h.Similarity})
	}
	return out, nil
}
