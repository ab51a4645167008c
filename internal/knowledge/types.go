// Package knowledge loads task definitions from a directory of YAML files
// into typed in-memory records (component C1, spec §4.1).
package knowledge

import "strings"

// TaskStep is the unit of matchable knowledge (spec §3).
type TaskStep struct {
	StepID                int      `yaml:"step_id"`
	Title                 string   `yaml:"title"`
	Description           string   `yaml:"task_description"`
	ToolsNeeded           []string `yaml:"tools_needed"`
	CompletionIndicators  []string `yaml:"completion_indicators"`
	VisualCues            []string `yaml:"visual_cues"`
	EstimatedDuration     string   `yaml:"estimated_duration"`
	SafetyNotes           []string `yaml:"safety_notes"`

	// composedText and embedding are filled in lazily by the embedding
	// index (C2), never by the loader. They are not part of the YAML shape.
	composedText string
	embedding    []float32
}

// ComposedText returns (and caches) the text used to embed this step:
// "{title} {description} {visual_cues joined by space}".
func (s *TaskStep) ComposedText() string {
	if s.composedText == "" {
		parts := make([]string, 0, 3)
		parts = append(parts, s.Title, s.Description)
		if len(s.VisualCues) > 0 {
			parts = append(parts, strings.Join(s.VisualCues, " "))
		}
		s.composedText = strings.TrimSpace(strings.Join(parts, " "))
	}
	return s.composedText
}

// Embedding returns the cached embedding vector, or nil if not yet set.
func (s *TaskStep) Embedding() []float32 { return s.embedding }

// SetEmbedding caches the embedding vector computed by the embedding index.
func (s *TaskStep) SetEmbedding(v []float32) { s.embedding = v }

// TaskKnowledge is one loadable task (spec §3).
type TaskKnowledge struct {
	TaskName                string            `yaml:"-"` // derived from file stem
	DisplayName             string            `yaml:"display_name"`
	Description             string            `yaml:"description"`
	DifficultyLevel         string            `yaml:"difficulty_level"`
	Metadata                map[string]string `yaml:"metadata"`
	Steps                   []*TaskStep       `yaml:"steps"`
	GlobalSafetyNotes       []string          `yaml:"global_safety_notes"`
	TaskCompletionIndicators []string         `yaml:"task_completion_indicators"`
}

// rawTaskKnowledge mirrors the on-disk YAML shape before TaskName injection.
type rawTaskKnowledge struct {
	DisplayName              string            `yaml:"display_name"`
	Description              string            `yaml:"description"`
	DifficultyLevel          string            `yaml:"difficulty_level"`
	Metadata                 map[string]string `yaml:"metadata"`
	Steps                    []*TaskStep       `yaml:"steps"`
	GlobalSafetyNotes        []string          `yaml:"global_safety_notes"`
	TaskCompletionIndicators []string          `yaml:"task_completion_indicators"`
}
