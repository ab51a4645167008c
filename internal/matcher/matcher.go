// Package matcher implements the retrieval-augmented matcher (C3, spec
// §4.3): given a VLM observation, find the best (task, step) candidate.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"taskloop/internal/embedindex"
	"taskloop/internal/knowledge"
)

// minObservationRunes is the minimal non-whitespace length below which an
// observation is rejected without attempting a match (spec §4.3, §8:
// length 4 filtered, length 5 attempted).
const minObservationRunes = 5

// MatchResult is the output of a successful match attempt (spec §3).
type MatchResult struct {
	TaskName             string
	StepID               int
	Title                string
	Description          string
	ToolsNeeded          []string
	CompletionIndicators []string
	Similarity           float64
	MatchedCues          []string
}

// Matcher finds the best matching task step for an observation.
type Matcher struct {
	index *embedindex.Index
	store *knowledge.Store
}

// New constructs a Matcher over the given embedding index and knowledge store.
func New(index *embedindex.Index, store *knowledge.Store) *Matcher {
	return &Matcher{index: index, store: store}
}

// nonWhitespaceCount counts non-whitespace runes, used by the minimal filter.
func nonWhitespaceCount(s string) int {
	n := 0
	for _, r := range s {
		if !isSpace(r) {
			n++
		}
	}
	return n
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// FindMatchingStep implements spec §4.3's find_matching_step. It returns
// (nil, nil) for trivially short observations — not an error, a filtered
// result — and never returns an error purely because similarity is low;
// EmbeddingUnavailable (wrapped from the index/embedder) is the only error
// path.
func (m *Matcher) FindMatchingStep(ctx context.Context, observation string) (*MatchResult, error) {
	if nonWhitespaceCount(observation) < minObservationRunes {
		return nil, nil
	}

	hits, err := m.index.Search(ctx, observation, 1)
	if err != nil {
		return nil, fmt.Errorf("matcher: embedding search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	top := hits[0]

	step := m.store.GetStep(top.TaskName, top.StepID)
	if step == nil {
		// The index and the knowledge store have drifted; treat as no match
		// rather than surfacing an internal inconsistency to the caller.
		return nil, nil
	}

	return &MatchResult{
		TaskName:             top.TaskName,
		StepID:               top.StepID,
		Title:                step.Title,
		Description:          step.Description,
		ToolsNeeded:          step.ToolsNeeded,
		CompletionIndicators: step.CompletionIndicators,
		Similarity:           top.Similarity,
		MatchedCues:          matchedCues(step.VisualCues, observation),
	}, nil
}

// matchedCues returns the subset of visualCues that appear as a
// case-insensitive substring of observation, preserving cue order.
func matchedCues(visualCues []string, observation string) []string {
	lower := strings.ToLower(observation)
	var out []string
	for _, cue := range visualCues {
		if cue == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(cue)) {
			out = append(out, cue)
		}
	}
	return out
}
