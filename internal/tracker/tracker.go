// Package tracker implements the state tracker / whiteboard (C5, spec
// §4.4): the confidence-gated update policy, the consistency check, and
// the EMPTY/TRACKING/DEGRADED state machine. It is the single point of
// mutation for the dual-loop engine's shared state.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"taskloop/internal/config"
	"taskloop/internal/knowledge"
	"taskloop/internal/matcher"
	"taskloop/internal/slidingwindow"
	"taskloop/internal/telemetry"
)

// lowConfidenceMaxConsecutive is the hardcoded LOW-confidence accept/reject
// cutoff from spec §4.4.1 step 4. It is deliberately distinct from the
// configurable thresholds.MaxConsecutiveLow used by recordMiss (step 5) for
// the TRACKING -> DEGRADED transition: the two checks answer different
// questions and must not share a knob.
const lowConfidenceMaxConsecutive = 3

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithMetrics wires a telemetry sink; defaults to a no-op sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock overrides the system clock; used by tests.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// Tracker owns the whiteboard and applies the update policy to every VLM
// observation passed to it. A single sync.Mutex serializes writers; reads
// go through an atomic.Pointer so GetWhiteboard never blocks on a writer
// (spec §5: no blocking I/O under the write lock, reads must stay cheap).
type Tracker struct {
	store   *knowledge.Store
	matcher *matcher.Matcher
	window  *slidingwindow.Window

	thresholds config.ThresholdsConfig

	metrics telemetry.Metrics
	clock   Clock

	mu                    sync.Mutex // serializes writers only
	consecutiveLowMatches int
	observationSeq        int64

	snapshot atomic.Pointer[Snapshot]
}

// New constructs a Tracker. The knowledge store, matcher and sliding
// window are shared, already-constructed collaborators (spec §4.4
// composes C1-C4).
func New(store *knowledge.Store, m *matcher.Matcher, window *slidingwindow.Window, thresholds config.ThresholdsConfig, opts ...Option) *Tracker {
	t := &Tracker{
		store:      store,
		matcher:    m,
		window:     window,
		thresholds: thresholds,
		metrics:    telemetry.Noop{},
		clock:      SystemClock{},
	}
	t.snapshot.Store(&Snapshot{State: StateEmpty})
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// classify maps a raw similarity into a ConfidenceLevel using the
// configured thresholds (spec §4.4.1).
func (t *Tracker) classify(similarity float64) ConfidenceLevel {
	switch {
	case similarity >= t.thresholds.High:
		return ConfidenceHigh
	case similarity >= t.thresholds.Medium:
		return ConfidenceMedium
	case similarity >= t.thresholds.Low:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ProcessVLMObservation is the subconscious loop's single entry point: run
// the matcher, classify confidence, apply the consistency check and the
// state machine, and — if accepted — mutate the whiteboard. It never
// returns an error to the caller for ordinary "no update happened"
// outcomes; only a genuine internal invariant violation is recovered and
// reported as an error (spec §7 InternalInvariantViolation).
func (t *Tracker) ProcessVLMObservation(ctx context.Context, observation string) (decision UpdateDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracker: internal invariant violation: %v", r)
			log.Error().Interface("panic", r).Msg("tracker_invariant_violation")
		}
	}()

	// Embedding and search run before the writer lock is taken.
	match, matchErr := t.matcher.FindMatchingStep(ctx, observation)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.observationSeq++
	decision.ObservationID = t.observationSeq

	if matchErr != nil {
		// EmbeddingUnavailable and friends: log and treat exactly like "no
		// match", never let a transient backend failure propagate into the
		// subconscious loop's caller.
		log.Warn().Err(matchErr).Msg("tracker_match_failed")
		decision.Reason = "match_error"
		t.recordMiss()
		return decision, nil
	}
	if match == nil {
		decision.Reason = "filtered_or_no_candidate"
		t.recordMiss()
		return decision, nil
	}

	decision.TaskName = match.TaskName
	decision.StepID = match.StepID
	decision.Similarity = match.Similarity
	level := t.classify(match.Similarity)
	decision.ConfidenceLevel = level

	cur := t.snapshot.Load()
	accept, reason := t.shouldAccept(cur, match, level)
	decision.Accepted = accept
	decision.Reason = reason

	t.metrics.IncCounter("tracker_observations_total", map[string]string{
		"confidence": level.String(),
		"accepted":   fmt.Sprintf("%t", accept),
	})

	if !accept {
		t.recordMiss()
		return decision, nil
	}

	t.applyUpdate(cur, match, level)
	return decision, nil
}

// shouldAccept implements spec §4.4.1 step 4 and §4.4.2's consistency
// check, including the degraded-mode override: while in DEGRADED state
// only a HIGH-confidence match can restore tracking.
func (t *Tracker) shouldAccept(cur *Snapshot, m *matcher.MatchResult, level ConfidenceLevel) (bool, string) {
	if cur.State == StateDegraded {
		if level == ConfidenceHigh {
			return true, "degraded_recovery"
		}
		return false, "degraded_awaiting_high_confidence"
	}

	switch level {
	case ConfidenceHigh:
		return true, "high_confidence"
	case ConfidenceMedium:
		if t.consistencyCheck(cur, m, level) {
			return true, "medium_confidence_consistent"
		}
		return false, "medium_confidence_inconsistent"
	case ConfidenceLow:
		if t.consecutiveLowMatches >= lowConfidenceMaxConsecutive {
			return false, "low_confidence_exhausted"
		}
		if t.consistencyCheck(cur, m, level) {
			return true, "low_confidence_consistent"
		}
		return false, "low_confidence_inconsistent"
	default:
		return false, "below_minimal_floor"
	}
}

// consistencyCheck implements spec §4.4.2: a task switch requires HIGH
// confidence; same-task forward jumps beyond max_forward_jump are
// rejected unless the last two-or-more window records already agree on
// the proposed step (the jump cap waiver). Backward jumps of any size and
// same-step re-confirmations are always consistent.
func (t *Tracker) consistencyCheck(cur *Snapshot, m *matcher.MatchResult, level ConfidenceLevel) bool {
	if cur.Current == nil {
		return true
	}
	if m.TaskName != cur.Current.TaskName {
		return level == ConfidenceHigh
	}
	delta := m.StepID - cur.Current.StepID
	if delta <= t.thresholds.MaxForwardJump {
		return true
	}
	return t.windowAgreesOn(m.TaskName, m.StepID)
}

// windowAgreesOn reports whether at least two of the most recent window
// records already name the proposed (task, step) — the jump-cap waiver.
func (t *Tracker) windowAgreesOn(taskName string, stepID int) bool {
	recent := t.window.Recent(2)
	agree := 0
	for _, r := range recent {
		if r.TaskName == taskName && r.StepID == stepID {
			agree++
		}
	}
	return agree >= 2
}

// applyUpdate performs the accepted mutation: roll current into previous,
// install the new current, append to the sliding window, and drive the
// EMPTY/TRACKING/DEGRADED transitions.
func (t *Tracker) applyUpdate(cur *Snapshot, m *matcher.MatchResult, level ConfidenceLevel) {
	now := t.clock.Now()

	next := &Snapshot{
		Previous:        cur.Current,
		TaskDisplayName: t.displayName(m.TaskName),
		State:           StateTracking,
	}
	next.Current = &StepView{
		TaskName:             m.TaskName,
		StepID:               m.StepID,
		Title:                m.Title,
		Description:          m.Description,
		ToolsNeeded:          m.ToolsNeeded,
		CompletionIndicators: m.CompletionIndicators,
		Confidence:           m.Similarity,
		LastUpdateTimestamp:  now,
	}

	t.snapshot.Store(next)
	t.consecutiveLowMatches = 0

	t.window.Append(slidingwindow.Record{
		TaskName:        m.TaskName,
		StepID:          m.StepID,
		Confidence:      m.Similarity,
		ConfidenceLevel: slidingwindow.ConfidenceLevel(level),
		Timestamp:       now,
	})
}

// recordMiss increments the consecutive-low-match counter and, once it
// crosses max_consecutive_low, transitions TRACKING -> DEGRADED. The
// whiteboard itself is retained unchanged (spec §4.4.1 step 5).
func (t *Tracker) recordMiss() {
	t.consecutiveLowMatches++
	if t.consecutiveLowMatches < t.thresholds.MaxConsecutiveLow {
		return
	}
	cur := t.snapshot.Load()
	if cur.State != StateTracking {
		return
	}
	degraded := *cur
	degraded.State = StateDegraded
	t.snapshot.Store(&degraded)
}

func (t *Tracker) displayName(taskName string) string {
	if tk := t.store.Get(taskName); tk != nil {
		return tk.DisplayName
	}
	return taskName
}

// GetWhiteboard returns a consistent, immutable snapshot of the current
// state. It never blocks behind a writer (spec §4.4.3, §5), and callers
// may freely mutate the returned copy without affecting tracker state.
func (t *Tracker) GetWhiteboard() Snapshot {
	snap := *t.snapshot.Load()
	snap.Current = cloneStepView(snap.Current)
	snap.Previous = cloneStepView(snap.Previous)
	return snap
}

func cloneStepView(v *StepView) *StepView {
	if v == nil {
		return nil
	}
	cp := *v
	cp.ToolsNeeded = append([]string(nil), v.ToolsNeeded...)
	cp.CompletionIndicators = append([]string(nil), v.CompletionIndicators...)
	return &cp
}

// GetRecent exposes the sliding window for diagnostics.
func (t *Tracker) GetRecent(n int) []slidingwindow.Record {
	return t.window.Recent(n)
}

// Reset clears the whiteboard and window back to the EMPTY state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveLowMatches = 0
	t.observationSeq = 0
	t.window.Clear()
	t.snapshot.Store(&Snapshot{State: StateEmpty})
}
