// Package fallback implements the fallback decision engine (C8, spec
// §4.8): a pure predicate deciding whether a query must escalate to the
// VLM rather than being answered from a template.
package fallback

import (
	"strings"

	"taskloop/internal/classifier"
	"taskloop/internal/tracker"
)

// minConfidence is the intent-confidence floor below which the template
// path is not trusted (spec §4.8).
const minConfidence = 0.40

// longQueryRunes is the length above which a query on a short-answer
// intent is assumed to want more detail than a template can give.
const longQueryRunes = 50

// shortAnswerIntents are the intents a template can answer concisely even
// for a long query.
var shortAnswerIntents = map[classifier.Intent]bool{
	classifier.IntentCurrentStep:   true,
	classifier.IntentNextStep:      true,
	classifier.IntentRequiredTools: true,
}

// explanatoryMarkers are English + the bundled second locale's (Spanish)
// markers that suggest the user wants an explanation a template cannot
// give (spec §4.8, SPEC_FULL.md §4.8).
var explanatoryMarkers = []string{
	"why", "how does", "explain",
	"por qué", "cómo funciona", "explica",
}

// Decision records both the verdict and the rationale, so callers can log
// it (spec §4.8 "the policy is pure and logs its rationale") without the
// decision function itself performing I/O.
type Decision struct {
	Fallback bool
	Reason   string
}

// ShouldFallback implements spec §4.8's five OR-conditions.
func ShouldFallback(result classifier.Result, snapshot tracker.Snapshot, query string) Decision {
	if result.Intent == classifier.IntentUnknown {
		return Decision{true, "unknown_intent"}
	}
	if result.Confidence < minConfidence {
		return Decision{true, "low_confidence"}
	}
	if snapshot.Current == nil {
		return Decision{true, "empty_whiteboard"}
	}
	if len([]rune(query)) > longQueryRunes && !shortAnswerIntents[result.Intent] {
		return Decision{true, "long_query_on_detail_intent"}
	}
	if containsExplanatoryMarker(query) {
		return Decision{true, "explanatory_marker"}
	}
	return Decision{false, "template_path"}
}

func containsExplanatoryMarker(query string) bool {
	lower := strings.ToLower(query)
	for _, marker := range explanatoryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
