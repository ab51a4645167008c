// Package orchestrator implements the query orchestrator (C10, spec
// §4.10): the instant-response loop's single entry point, tying the
// classifier, fallback decision engine, template responder, and VLM
// fallback client together behind one uniformly-shaped response.
package orchestrator

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"taskloop/internal/classifier"
	"taskloop/internal/fallback"
	"taskloop/internal/knowledge"
	"taskloop/internal/responder"
	"taskloop/internal/tracker"
	"taskloop/internal/telemetry"
	"taskloop/internal/vlmclient"
)

// maxQueryBytes is Boundary 4's input limit (spec §6): queries over this
// size are truncated rather than rejected.
const maxQueryBytes = 10 * 1024

// truncateQuery enforces maxQueryBytes, backing off to the nearest valid
// UTF-8 boundary so truncation never splits a multi-byte rune.
func truncateQuery(query string) string {
	if len(query) <= maxQueryBytes {
		return query
	}
	b := []byte(query)[:maxQueryBytes]
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

// Source identifies which path produced QueryResponse.Text.
type Source int

const (
	SourceTemplate Source = iota
	SourceVLM
)

func (s Source) String() string {
	if s == SourceVLM {
		return "VLM"
	}
	return "TEMPLATE"
}

// QueryResponse is the uniform shape both branches of Answer return (spec
// §4.10): callers cannot distinguish source except by the Source field.
type QueryResponse struct {
	Text             string
	Intent           classifier.Intent
	Confidence       float64
	ProcessingTimeMs float64
	Source           Source
	SnapshotAtAnswer tracker.Snapshot
	FallbackReason   string
}

// Clock abstracts time for the stage-timed pipeline; shares the tracker
// package's Clock interface so a single fake clock can drive a whole test.
type Clock = tracker.Clock

// Orchestrator implements Answer(query) per spec §4.10's 6-step pipeline,
// grounded on the teacher's internal/rag/service.Service.Ingest's
// stage-timed-with-metrics style.
type Orchestrator struct {
	tracker *tracker.Tracker
	store   *knowledge.Store
	vlm     *vlmclient.Client
	metrics telemetry.Metrics
	clock   Clock
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

func WithMetrics(m telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// New constructs an Orchestrator.
func New(t *tracker.Tracker, store *knowledge.Store, vlm *vlmclient.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{tracker: t, store: store, vlm: vlm, metrics: telemetry.Noop{}, clock: tracker.SystemClock{}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer runs the 6-step pipeline of spec §4.10. A panic inside the
// pipeline is recovered, logged, and answered with the soft-failure text.
func (o *Orchestrator) Answer(ctx context.Context, query string) (resp QueryResponse) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("orchestrator_invariant_violation")
			resp = QueryResponse{Text: vlmclient.SoftFailureMessage, Intent: classifier.IntentUnknown, FallbackReason: "internal_invariant_violation"}
		}
	}()

	t0 := o.clock.Now()

	query = truncateQuery(query)
	result := classifier.Classify(query)
	snapshot := o.tracker.GetWhiteboard()

	decision := fallback.ShouldFallback(result, snapshot, query)

	var text string
	var source Source
	var confidence float64

	if decision.Fallback {
		text = o.vlm.AskVLM(ctx, query, snapshot)
		source = SourceVLM
		confidence = 1.0
	} else {
		text = responder.Render(result.Intent, snapshot, o.store)
		source = SourceTemplate
		confidence = result.Confidence
	}

	elapsed := o.clock.Now().Sub(t0)
	elapsedMs := float64(elapsed.Microseconds()) / 1000.0

	o.metrics.ObserveHistogram("orchestrator_answer_duration_ms", elapsedMs, map[string]string{
		"source": source.String(),
		"intent": result.Intent.String(),
	})
	o.metrics.IncCounter("orchestrator_answers_total", map[string]string{
		"source": source.String(),
	})

	return QueryResponse{
		Text:             text,
		Intent:           result.Intent,
		Confidence:       confidence,
		ProcessingTimeMs: elapsedMs,
		Source:           source,
		SnapshotAtAnswer: snapshot,
		FallbackReason:   decision.Reason,
	}
}
