package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskloop/internal/config"
	"taskloop/internal/embedcache"
	"taskloop/internal/embedindex"
	"taskloop/internal/knowledge"
	"taskloop/internal/matcher"
	"taskloop/internal/slidingwindow"
	"taskloop/internal/vectorstore"
)

const twoTaskYAML1 = `
display_name: "Coffee Brewing"
steps:
  - step_id: 1
    title: "Boil water"
    task_description: "Bring water to a rolling boil in the kettle"
    visual_cues: ["kettle", "steam rising"]
  - step_id: 2
    title: "Grind coffee beans"
    task_description: "User grinds coffee beans using a manual grinder"
    visual_cues: ["grinding coffee beans", "hand cranking grinder"]
  - step_id: 3
    title: "Pour over"
    task_description: "Pour hot water over the grounds in a slow spiral"
    visual_cues: ["pouring water", "spiral motion"]
  - step_id: 4
    title: "Pour over"
    task_description: "wipe down counter sink soap"
    visual_cues: ["wiping counter", "sink", "soap"]
  - step_id: 5
    title: "Enjoy"
    task_description: "User sips the finished cup of coffee slowly"
    visual_cues: ["sipping coffee", "finished cup"]
`

const twoTaskYAML2 = `
display_name: "Tire Change"
steps:
  - step_id: 1
    title: "Loosen lug nuts"
    task_description: "User loosens the lug nuts with a tire iron before jacking"
    visual_cues: ["tire iron", "lug nuts"]
`

// fakeClock lets tests control LastUpdateTimestamp deterministically.
type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestTracker(t *testing.T, thresholds config.ThresholdsConfig) (*Tracker, *knowledge.Store) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "coffee_brewing.yaml"), []byte(twoTaskYAML1), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tire_change.yaml"), []byte(twoTaskYAML2), 0o644); err != nil {
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
	tr := New(ks, m, win, thresholds, WithClock(&fakeClock{t: time.Unix(0, 0)}))
	return tr, ks
}

func defaultThresholds() config.ThresholdsConfig {
	return config.ThresholdsConfig{High: 0.70, Medium: 0.40, Low: 0.15, MinimalFloor: 0.15, MaxForwardJump: 3, MaxConsecutiveLow: 5}
}

func TestTracker_StartsEmpty(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	snap := tr.GetWhiteboard()
	if snap.State != StateEmpty || snap.Current != nil {
		t.Fatalf("expected empty whiteboard, got %+v", snap)
	}
}

func TestTracker_HighConfidenceObservationAcceptedFromEmpty(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	// Force-feed via direct matcher result instead of relying on the
	// deterministic embedder to clear the HIGH threshold: exercise the
	// acceptance path with a hand-built match.
	cur := tr.GetWhiteboard()
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)
	if !accept || reason != "high_confidence" {
		t.Fatalf("expected high-confidence acceptance from empty state, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_ForwardJumpWithinCapAccepted(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	cur := tr.GetWhiteboard()
	// delta = 3 == MaxForwardJump: accepted at MEDIUM without needing the
	// window-agreement waiver.
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 4, Similarity: 0.5}, ConfidenceMedium)
	if !accept || reason != "medium_confidence_consistent" {
		t.Fatalf("expected forward jump at cap to be accepted, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_ForwardJumpBeyondCapRejectedAtMedium(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	cur := tr.GetWhiteboard()
	// delta = 4 > cap, window has no agreement yet.
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 5, Similarity: 0.5}, ConfidenceMedium)
	if accept || reason != "medium_confidence_inconsistent" {
		t.Fatalf("expected forward jump beyond cap to be rejected at medium, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_ForwardJumpBeyondCapAcceptedAtHighConfidence(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	cur := tr.GetWhiteboard()
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 5, Similarity: 0.9}, ConfidenceHigh)
	if !accept || reason != "high_confidence" {
		t.Fatalf("expected HIGH confidence to bypass the jump cap entirely, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_WindowAgreementWaivesJumpCap(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	// Two prior window records already agree on step 5 (beyond the cap).
	tr.window.Append(slidingwindow.Record{TaskName: "coffee_brewing", StepID: 5})
	tr.window.Append(slidingwindow.Record{TaskName: "coffee_brewing", StepID: 5})

	cur := tr.GetWhiteboard()
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 5, Similarity: 0.5}, ConfidenceMedium)
	if !accept || reason != "medium_confidence_consistent" {
		t.Fatalf("expected window agreement to waive the jump cap, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_BackwardJumpAlwaysConsistent(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 5, Similarity: 0.9}, ConfidenceHigh)

	cur := tr.GetWhiteboard()
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.5}, ConfidenceMedium)
	if !accept || reason != "medium_confidence_consistent" {
		t.Fatalf("expected any backward jump to be consistent, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_TaskSwitchRequiresHighConfidence(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	cur := tr.GetWhiteboard()
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "tire_change", StepID: 1, Similarity: 0.5}, ConfidenceMedium)
	if accept || reason != "medium_confidence_inconsistent" {
		t.Fatalf("expected medium-confidence task switch to be rejected, got accept=%v reason=%q", accept, reason)
	}

	accept, reason = tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "tire_change", StepID: 1, Similarity: 0.9}, ConfidenceHigh)
	if !accept || reason != "high_confidence" {
		t.Fatalf("expected high-confidence task switch to be accepted, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_ConsecutiveLowMatchesTransitionToDegraded(t *testing.T) {
	thresholds := defaultThresholds()
	thresholds.MaxConsecutiveLow = 3
	tr, _ := newTestTracker(t, thresholds)
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	for i := 0; i < 3; i++ {
		tr.recordMiss()
	}
	snap := tr.GetWhiteboard()
	if snap.State != StateDegraded {
		t.Fatalf("expected degraded state after max_consecutive_low misses, got %s", snap.State)
	}
	if snap.Current == nil || snap.Current.StepID != 1 {
		t.Fatalf("expected whiteboard to retain the last known step while degraded, got %+v", snap.Current)
	}
}

func TestTracker_DegradedOnlyAcceptsHighConfidenceRecovery(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)
	degraded := tr.GetWhiteboard()
	degraded.State = StateDegraded
	tr.snapshot.Store(&degraded)

	accept, reason := tr.shouldAccept(&degraded, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 2, Similarity: 0.5}, ConfidenceMedium)
	if accept || reason != "degraded_awaiting_high_confidence" {
		t.Fatalf("expected medium confidence to stay rejected while degraded, got accept=%v reason=%q", accept, reason)
	}

	accept, reason = tr.shouldAccept(&degraded, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 2, Similarity: 0.9}, ConfidenceHigh)
	if !accept || reason != "degraded_recovery" {
		t.Fatalf("expected high confidence to recover from degraded, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_LowConfidenceConsistentAcceptedBelowCap(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	cur := tr.GetWhiteboard()
	tr.consecutiveLowMatches = lowConfidenceMaxConsecutive - 1
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 2, Similarity: 0.2}, ConfidenceLow)
	if !accept || reason != "low_confidence_consistent" {
		t.Fatalf("expected low-confidence match below the cap to be accepted, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_LowConfidenceExhaustedAtThreeConsecutive(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9}, ConfidenceHigh)

	cur := tr.GetWhiteboard()
	// consecutiveLowMatches at 3 must reject regardless of the configured
	// (and here much larger) MaxConsecutiveLow used for the DEGRADED
	// transition — the two counters are distinct.
	tr.consecutiveLowMatches = lowConfidenceMaxConsecutive
	accept, reason := tr.shouldAccept(&cur, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 2, Similarity: 0.2}, ConfidenceLow)
	if accept || reason != "low_confidence_exhausted" {
		t.Fatalf("expected low-confidence match at 3 consecutive misses to be rejected, got accept=%v reason=%q", accept, reason)
	}
}

func TestTracker_ProcessVLMObservationEndToEnd(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	decision, err := tr.ProcessVLMObservation(context.Background(), "user is grinding coffee beans with a hand cranking grinder")
	require.NoError(t, err)
	require.Equal(t, "coffee_brewing", decision.TaskName)
	require.Equal(t, 2, decision.StepID)
}

func TestTracker_ReturnsCopyNotLiveWhiteboard(t *testing.T) {
	tr, _ := newTestTracker(t, defaultThresholds())
	tr.applyUpdate(&Snapshot{State: StateEmpty}, &matcher.MatchResult{TaskName: "coffee_brewing", StepID: 1, Similarity: 0.9, Title: "Boil water"}, ConfidenceHigh)
	snap := tr.GetWhiteboard()
	snap.Current.Title = "mutated locally"

	fresh := tr.GetWhiteboard()
	if fresh.Current.Title == "mutated locally" {
		t.Fatalf("GetWhiteboard leaked a shared mutable StepView")
	}
}
