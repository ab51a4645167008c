// Package responder implements the template responder (C7, spec §4.7):
// fixed, pure renderings of a whiteboard snapshot per recognised intent.
package responder

import (
	"fmt"
	"strings"

	"taskloop/internal/classifier"
	"taskloop/internal/knowledge"
	"taskloop/internal/tracker"
)

// NoCurrentTaskMessage is the canonical response every template returns
// when the whiteboard is empty (spec §4.7).
const NoCurrentTaskMessage = "I don't have a current task in view yet. Once I recognise what you're working on, I'll be able to help."

// Render produces the fixed text for a non-UNKNOWN intent against the
// given snapshot (spec §4.7). Callers are responsible for routing
// IntentUnknown elsewhere; Render still returns a safe fallback for it.
func Render(intent classifier.Intent, snapshot tracker.Snapshot, store *knowledge.Store) string {
	if snapshot.Current == nil {
		return NoCurrentTaskMessage
	}

	switch intent {
	case classifier.IntentCurrentStep:
		return renderCurrentStep(snapshot)
	case classifier.IntentNextStep:
		return renderNextStep(snapshot, store)
	case classifier.IntentRequiredTools:
		return renderRequiredTools(snapshot)
	case classifier.IntentCompletionStatus:
		return renderCompletionStatus(snapshot)
	case classifier.IntentProgressOverview:
		return renderProgressOverview(snapshot, store)
	case classifier.IntentHelp:
		return renderHelp()
	default:
		return NoCurrentTaskMessage
	}
}

func renderCurrentStep(snapshot tracker.Snapshot) string {
	cur := snapshot.Current
	return fmt.Sprintf("%s — Step %d: %s. %s", snapshot.TaskDisplayName, cur.StepID, cur.Title, cur.Description)
}

func renderNextStep(snapshot tracker.Snapshot, store *knowledge.Store) string {
	cur := snapshot.Current
	next := store.NextStep(cur.TaskName, cur.StepID)
	if next == nil {
		return "This is the last step."
	}
	return fmt.Sprintf("%s — Step %d: %s. %s", snapshot.TaskDisplayName, next.StepID, next.Title, next.Description)
}

func renderRequiredTools(snapshot tracker.Snapshot) string {
	tools := snapshot.Current.ToolsNeeded
	if len(tools) == 0 {
		return "No tools required for this step."
	}
	return strings.Join(tools, ", ")
}

func renderCompletionStatus(snapshot tracker.Snapshot) string {
	indicators := snapshot.Current.CompletionIndicators
	if len(indicators) == 0 {
		return "No completion indicators are defined for this step."
	}
	var b strings.Builder
	b.WriteString("You'll know this step is done when: ")
	for i, ind := range indicators {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ind)
	}
	return b.String()
}

func renderProgressOverview(snapshot tracker.Snapshot, store *knowledge.Store) string {
	cur := snapshot.Current
	total := 0
	if tk := store.Get(cur.TaskName); tk != nil {
		total = len(tk.Steps)
	}
	return fmt.Sprintf("Step %d of %d in %s", cur.StepID, total, snapshot.TaskDisplayName)
}

func renderHelp() string {
	var b strings.Builder
	b.WriteString("You can ask me about: ")
	names := make([]string, 0, len(classifier.AllIntents()))
	for _, intent := range classifier.AllIntents() {
		if intent == classifier.IntentHelp {
			continue
		}
		names = append(names, helpLabel(intent))
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".")
	return b.String()
}

func helpLabel(intent classifier.Intent) string {
	switch intent {
	case classifier.IntentCurrentStep:
		return "what step you're on"
	case classifier.IntentNextStep:
		return "what comes next"
	case classifier.IntentRequiredTools:
		return "what tools you need"
	case classifier.IntentCompletionStatus:
		return "how you'll know the step is complete"
	case classifier.IntentProgressOverview:
		return "your overall progress"
	default:
		return strings.ToLower(intent.String())
	}
}
