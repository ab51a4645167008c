package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"taskloop/internal/classifier"
	"taskloop/internal/config"
	"taskloop/internal/embedcache"
	"taskloop/internal/embedindex"
	"taskloop/internal/knowledge"
	"taskloop/internal/matcher"
	"taskloop/internal/slidingwindow"
	"taskloop/internal/tracker"
	"taskloop/internal/vectorstore"
	"taskloop/internal/vlmclient"
)

const taskYAML = `
display_name: "Coffee Brewing"
steps:
  - step_id: 1
    title: "Boil water"
    task_description: "Bring water to a rolling boil"
    visual_cues: ["kettle", "steam rising"]
  - step_id: 2
    title: "Grind coffee beans"
    task_description: "User grinds coffee beans using a manual grinder"
    tools_needed: ["grinder"]
    visual_cues: ["grinding coffee beans"]
`

type fakeProvider struct{ text string }

func (f *fakeProvider) Chat(ctx context.Context, msgs []vlmclient.Message, model string) (string, error) {
	return f.text, nil
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "coffee_brewing.yaml"), []byte(taskYAML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	ks, err := knowledge.Load(dir)
	if err != nil {
		t.Fatalf("knowledge.Load: %v", err)
	}
	cache, _ := embedcache.NewFile(t.TempDir())
	idx := embedindex.New(embedindex.NewDeterministic(64), vectorstore.NewMemory(), cache)
	if err := idx.Build(context.Background(), ks); err != nil {
		t.Fatalf("Build: %v", err)
	}
	m := matcher.New(idx, ks)
	win := slidingwindow.New(50)
	thresholds := config.ThresholdsConfig{High: 0.70, Medium: 0.40, Low: 0.15, MinimalFloor: 0.15, MaxForwardJump: 3, MaxConsecutiveLow: 5}
	tr := tracker.New(ks, m, win, thresholds, tracker.WithClock(fixedClock{time.Unix(0, 0)}))

	vlm := vlmclient.New(&fakeProvider{text: "vlm answer"}, vlmclient.Config{}, vlmclient.WithClock(fixedClock{time.Unix(0, 0)}))

	return New(tr, ks, vlm, WithClock(fixedClock{time.Unix(0, 0)}))
}

func TestAnswer_EmptyWhiteboardAlwaysFallsBackToVLM(t *testing.T) {
	o := newTestOrchestrator(t)
	resp := o.Answer(context.Background(), "what step am I on?")
	if resp.Source != SourceVLM {
		t.Fatalf("expected VLM fallback on empty whiteboard, got %s", resp.Source)
	}
	if resp.Text != "vlm answer" {
		t.Fatalf("expected VLM text, got %q", resp.Text)
	}
	if resp.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0 on VLM path, got %v", resp.Confidence)
	}
}

func TestAnswer_TemplatePathWhenTrackingAndConfident(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.tracker.ProcessVLMObservation(context.Background(), "user is grinding coffee beans with a hand cranking grinder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := o.Answer(context.Background(), "what step am I on?")
	if resp.Source != SourceTemplate {
		t.Fatalf("expected template path once tracking, got %s reason=%q", resp.Source, resp.FallbackReason)
	}
	if resp.Intent != classifier.IntentCurrentStep {
		t.Fatalf("expected CURRENT_STEP intent, got %s", resp.Intent)
	}
}

func TestAnswer_UnknownIntentAlwaysFallsBack(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.tracker.ProcessVLMObservation(context.Background(), "user is grinding coffee beans with a hand cranking grinder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := o.Answer(context.Background(), "banana rocket telescope")
	if resp.Source != SourceVLM {
		t.Fatalf("expected VLM fallback for unknown intent, got %s", resp.Source)
	}
}

func TestAnswer_ProcessingTimeIsNonNegative(t *testing.T) {
	o := newTestOrchestrator(t)
	resp := o.Answer(context.Background(), "help")
	if resp.ProcessingTimeMs < 0 {
		t.Fatalf("expected non-negative processing time, got %v", resp.ProcessingTimeMs)
	}
}

func TestAnswer_OverLongQueryIsTruncatedNotRejected(t *testing.T) {
	o := newTestOrchestrator(t)
	oversized := strings.Repeat("a", maxQueryBytes+500)

	resp := o.Answer(context.Background(), oversized)
	if resp.Source != SourceVLM {
		t.Fatalf("expected a query this long to still produce a response via fallback, got %s", resp.Source)
	}
}

func TestTruncateQuery_RespectsUTF8Boundary(t *testing.T) {
	oversized := strings.Repeat("a", maxQueryBytes-1) + "é" // 'é' is 2 bytes, straddles the cutoff
	truncated := truncateQuery(oversized)
	if len(truncated) > maxQueryBytes {
		t.Fatalf("expected truncated query to respect the byte limit, got %d bytes", len(truncated))
	}
	if !utf8.ValidString(truncated) {
		t.Fatalf("expected truncated query to remain valid UTF-8, got %q", truncated)
	}
}

func TestTruncateQuery_LeavesShortQueriesUnchanged(t *testing.T) {
	if got := truncateQuery("what step am I on?"); got != "what step am I on?" {
		t.Fatalf("expected short query to pass through unchanged, got %q", got)
	}
}
