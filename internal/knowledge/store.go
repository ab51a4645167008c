package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// KnowledgeLoadError is fatal at startup: zero valid tasks were loaded.
type KnowledgeLoadError struct {
	Dir    string
	Errors []error
}

func (e *KnowledgeLoadError) Error() string {
	return fmt.Sprintf("knowledge: no valid tasks loaded from %q (%d file(s) rejected)", e.Dir, len(e.Errors))
}

// ValidationError describes why a single task file was rejected.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("knowledge: %s: %s", e.File, e.Reason)
}

// Store holds every successfully loaded TaskKnowledge, read-only after Load.
type Store struct {
	tasks map[string]*TaskKnowledge
	order []string
}

// Load enumerates every *.yaml/*.yml file under dir, parses and validates
// each into a TaskKnowledge keyed by its file stem, and returns a Store.
// Files that fail validation are skipped and logged, not fatal; the store
// only returns KnowledgeLoadError when zero tasks survive.
func Load(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read dir %q: %w", dir, err)
	}

	s := &Store{tasks: make(map[string]*TaskKnowledge)}
	var rejects []error

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		taskName := strings.TrimSuffix(name, filepath.Ext(name))
		path := filepath.Join(dir, name)

		tk, err := loadOne(path, taskName)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("knowledge_task_rejected")
			rejects = append(rejects, err)
			continue
		}
		if _, dup := s.tasks[taskName]; dup {
			err := &ValidationError{File: path, Reason: "duplicate task_name"}
			log.Warn().Err(err).Msg("knowledge_task_rejected")
			rejects = append(rejects, err)
			continue
		}
		s.tasks[taskName] = tk
		s.order = append(s.order, taskName)
	}

	if len(s.tasks) == 0 {
		return nil, &KnowledgeLoadError{Dir: dir, Errors: rejects}
	}
	sort.Strings(s.order)
	return s, nil
}

func loadOne(path, taskName string) (*TaskKnowledge, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{File: path, Reason: err.Error()}
	}
	var raw rawTaskKnowledge
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, &ValidationError{File: path, Reason: "yaml parse: " + err.Error()}
	}
	tk := &TaskKnowledge{
		TaskName:                 taskName,
		DisplayName:              raw.DisplayName,
		Description:              raw.Description,
		DifficultyLevel:          raw.DifficultyLevel,
		Metadata:                 raw.Metadata,
		Steps:                    raw.Steps,
		GlobalSafetyNotes:        raw.GlobalSafetyNotes,
		TaskCompletionIndicators: raw.TaskCompletionIndicators,
	}
	if err := validate(tk); err != nil {
		return nil, &ValidationError{File: path, Reason: err.Error()}
	}
	if tk.DisplayName == "" {
		tk.DisplayName = taskName
	}
	return tk, nil
}

func validate(tk *TaskKnowledge) error {
	if len(tk.Steps) == 0 {
		return fmt.Errorf("steps must be non-empty")
	}
	expected := 1
	monotonic := true
	for i, st := range tk.Steps {
		if st.StepID < 1 {
			return fmt.Errorf("step %d: step_id must be >= 1", i)
		}
		if st.Title == "" {
			return fmt.Errorf("step %d: title is required", i)
		}
		if st.Description == "" {
			return fmt.Errorf("step %d (%q): task_description is required", i, st.Title)
		}
		if st.ToolsNeeded == nil {
			st.ToolsNeeded = []string{}
		}
		if st.CompletionIndicators == nil {
			st.CompletionIndicators = []string{}
		}
		if st.VisualCues == nil {
			st.VisualCues = []string{}
		}
		if st.StepID != expected {
			monotonic = false
		}
		expected = st.StepID + 1
	}
	if !monotonic {
		log.Warn().Str("task", tk.TaskName).Msg("knowledge_step_ids_not_strictly_increasing")
	}
	return nil
}

// AllTasks returns every loaded task, in stable (sorted by name) order.
func (s *Store) AllTasks() []*TaskKnowledge {
	out := make([]*TaskKnowledge, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tasks[name])
	}
	return out
}

// Get returns the task with the given name, or nil if unknown.
func (s *Store) Get(taskName string) *TaskKnowledge {
	return s.tasks[taskName]
}

// GetStep returns the step with the given id in the given task, or nil.
func (s *Store) GetStep(taskName string, stepID int) *TaskStep {
	tk := s.tasks[taskName]
	if tk == nil {
		return nil
	}
	for _, st := range tk.Steps {
		if st.StepID == stepID {
			return st
		}
	}
	return nil
}

// NextStep returns the step immediately following stepID in taskName's
// ordered step sequence, or nil if stepID is the last step (or invalid).
func (s *Store) NextStep(taskName string, stepID int) *TaskStep {
	tk := s.tasks[taskName]
	if tk == nil {
		return nil
	}
	for i, st := range tk.Steps {
		if st.StepID == stepID {
			if i+1 < len(tk.Steps) {
				return tk.Steps[i+1]
			}
			return nil
		}
	}
	return nil
}
