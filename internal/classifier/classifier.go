// Package classifier implements the query classifier (C6, spec §4.6): a
// deterministic, weighted keyword classifier mapping a free-form user
// query to one of a small set of intents plus a confidence score. It is
// pure and allocation-light, grounded structurally on the teacher's
// internal/rag retrieval query-normalization pattern, generalised here
// from full-text search scoring to multi-locale intent scoring.
package classifier

import (
	"strings"
)

// Intent is one of the small closed set of recognised query intents.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentCurrentStep
	IntentNextStep
	IntentRequiredTools
	IntentCompletionStatus
	IntentProgressOverview
	IntentHelp
)

func (i Intent) String() string {
	switch i {
	case IntentCurrentStep:
		return "CURRENT_STEP"
	case IntentNextStep:
		return "NEXT_STEP"
	case IntentRequiredTools:
		return "REQUIRED_TOOLS"
	case IntentCompletionStatus:
		return "COMPLETION_STATUS"
	case IntentProgressOverview:
		return "PROGRESS_OVERVIEW"
	case IntentHelp:
		return "HELP"
	default:
		return "UNKNOWN"
	}
}

// AllIntents lists every intent the HELP template enumerates, excluding
// UNKNOWN.
func AllIntents() []Intent {
	return []Intent{IntentCurrentStep, IntentNextStep, IntentRequiredTools, IntentCompletionStatus, IntentProgressOverview, IntentHelp}
}

// term is a single weighted keyword or phrase contributing to an intent's score.
type term struct {
	phrase string
	weight float64
}

// lexicon maps intents to their weighted term lists for one locale.
type lexicon map[Intent][]term

// english and spanish are the two bundled locales (spec §4.6's Open
// Question resolved: any single additional locale satisfies the spec;
// Spanish is the concrete bundled choice, see SPEC_FULL.md §9).
var english = lexicon{
	IntentCurrentStep: {
		{"current step", 2}, {"what step", 2}, {"where am i", 2}, {"what am i doing", 1.5}, {"this step", 1},
	},
	IntentNextStep: {
		{"next step", 2}, {"what's next", 2}, {"what now", 1.5}, {"then what", 1.5}, {"after this", 1},
	},
	IntentRequiredTools: {
		{"what tools", 2}, {"what do i need", 2}, {"which tools", 2}, {"equipment", 1.5}, {"tools needed", 2},
	},
	IntentCompletionStatus: {
		{"am i done", 2}, {"is this done", 2}, {"how do i know", 1.5}, {"completion", 1.5}, {"finished", 1},
	},
	IntentProgressOverview: {
		{"progress", 2}, {"overview", 1.5}, {"how far", 1.5}, {"overall", 1}, {"how many steps", 2},
	},
	IntentHelp: {
		{"help", 2}, {"what can you do", 2}, {"what can i ask", 1.5}, {"commands", 1},
	},
}

var spanish = lexicon{
	IntentCurrentStep: {
		{"paso actual", 2}, {"qué paso", 2}, {"en qué paso", 2}, {"dónde estoy", 1.5},
	},
	IntentNextStep: {
		{"siguiente paso", 2}, {"qué sigue", 2}, {"y ahora qué", 1.5}, {"después de esto", 1},
	},
	IntentRequiredTools: {
		{"qué herramientas", 2}, {"qué necesito", 2}, {"cuáles herramientas", 2}, {"equipo necesario", 1.5},
	},
	IntentCompletionStatus: {
		{"ya terminé", 2}, {"está listo", 2}, {"cómo sé", 1.5}, {"completado", 1.5},
	},
	IntentProgressOverview: {
		{"progreso", 2}, {"resumen", 1.5}, {"qué tanto", 1.5}, {"cuántos pasos", 2},
	},
	IntentHelp: {
		{"ayuda", 2}, {"qué puedes hacer", 2}, {"qué puedo preguntar", 1.5}, {"comandos", 1},
	},
}

// maxScore returns the weight of an intent's strongest term in a lexicon,
// used to normalise raw scores into confidence: matching that one term
// scores 1, and Classify clips scores from several matched terms to 1.
func maxScore(lx lexicon, intent Intent) float64 {
	var max float64
	for _, t := range lx[intent] {
		if t.weight > max {
			max = t.weight
		}
	}
	if max == 0 {
		return 1
	}
	return max
}

// detectLocale applies the ASCII heuristic of spec §4.6: presence of
// non-ASCII characters selects the second locale; ambiguous (pure ASCII)
// defaults to English.
func detectLocale(query string) lexicon {
	for _, r := range query {
		if r > 0x7F {
			return spanish
		}
	}
	return english
}

// Result is the classifier's output (spec §4.6).
type Result struct {
	Intent     Intent
	Confidence float64
}

// Classify maps a free-form query to an intent plus confidence. Pure, no
// side effects, and cheap enough to run with no timeout (spec §5).
func Classify(query string) Result {
	lx := detectLocale(query)
	lower := strings.ToLower(query)

	best := IntentUnknown
	var bestScore float64
	for _, intent := range AllIntents() {
		score := scoreIntent(lx, intent, lower)
		if score > bestScore {
			bestScore = score
			best = intent
		}
	}
	if best == IntentUnknown {
		return Result{Intent: IntentUnknown, Confidence: 0}
	}

	conf := bestScore / maxScore(lx, best)
	if conf > 1 {
		conf = 1
	}
	return Result{Intent: best, Confidence: conf}
}

func scoreIntent(lx lexicon, intent Intent, lowerQuery string) float64 {
	var score float64
	for _, t := range lx[intent] {
		if strings.Contains(lowerQuery, t.phrase) {
			score += t.weight
		}
	}
	return score
}
