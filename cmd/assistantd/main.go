// Command assistantd runs the dual-loop manual-assistant state-tracking
// engine: a subconscious loop that folds VLM observations into the
// shared whiteboard, and an instant-response loop that answers user
// queries against it. Transport (HTTP/WebSocket/etc.) is intentionally
// out of scope; this binary reads observation and query lines from
// stdin so it can be driven directly or wrapped by an external service.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"taskloop/internal/config"
	"taskloop/internal/embedcache"
	"taskloop/internal/embedindex"
	"taskloop/internal/knowledge"
	"taskloop/internal/matcher"
	"taskloop/internal/obslog"
	"taskloop/internal/orchestrator"
	"taskloop/internal/slidingwindow"
	"taskloop/internal/telemetry"
	"taskloop/internal/tracker"
	"taskloop/internal/vectorstore"
	"taskloop/internal/vlmclient"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; built-in defaults otherwise)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "assistantd: config: %v\n", err)
		os.Exit(1)
	}

	obslog.Init(cfg.Logging.Path, cfg.Logging.Level)

	ks, err := knowledge.Load(cfg.Knowledge.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("knowledge_load_failed")
	}
	log.Info().Int("tasks", len(ks.AllTasks())).Msg("knowledge_loaded")

	embedder := buildEmbedder(cfg)
	store := buildVectorStore(cfg)
	cache, err := embedcache.NewFile(cfg.Embedding.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Msg("embedcache_init_failed")
	}
	if cfg.Redis.Enabled {
		cache = embedcache.NewRedisTier(embedcache.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, TTL: 24 * time.Hour}, cache)
	}

	idx := embedindex.New(embedder, store, cache)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := idx.Build(ctx, ks); err != nil {
		log.Fatal().Err(err).Msg("embedindex_build_failed")
	}

	m := matcher.New(idx, ks)
	win := slidingwindow.New(cfg.Window.Capacity)

	var metrics telemetry.Metrics = telemetry.Noop{}
	if cfg.Telemetry.Enabled {
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
		otel.SetMeterProvider(mp)
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("otel_meter_provider_shutdown_failed")
			}
		}()
		metrics = telemetry.NewOtel(cfg.Telemetry.Scope)
	}

	tr := tracker.New(ks, m, win, cfg.Thresholds, tracker.WithMetrics(metrics))

	vlm := vlmclient.New(buildVLMProvider(cfg), vlmclient.Config{
		Model:            cfg.VLM.Model,
		Timeout:          cfg.VLM.Timeout,
		MaxRetries:       cfg.VLM.MaxRetries,
		FailureThreshold: cfg.VLM.FailureThreshold,
		FailureWindow:    cfg.VLM.FailureWindow,
		CooldownPeriod:   cfg.VLM.CooldownPeriod,
	})

	orch := orchestrator.New(tr, ks, vlm, orchestrator.WithMetrics(metrics))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		runSubconsciousLoop(gctx, tr, cfg.Subconscious.Period)
		return nil
	})
	g.Go(func() error {
		runInstantResponseREPL(gctx, orch)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("assistantd_exited_with_error")
		os.Exit(1)
	}
}

func buildEmbedder(cfg config.Config) embedindex.Embedder {
	if cfg.Embedding.Backend == "http" {
		return embedindex.NewHTTP(embedindex.HTTPConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			Path:      cfg.Embedding.Path,
			Model:     cfg.Embedding.Model,
			APIHeader: cfg.Embedding.APIHeader,
			APIKey:    cfg.Embedding.APIKey,
			Timeout:   cfg.Embedding.Timeout,
		}, cfg.Embedding.Dimension)
	}
	return embedindex.NewDeterministic(cfg.Embedding.Dimension)
}

func buildVectorStore(cfg config.Config) vectorstore.Store {
	if cfg.VectorStore.Backend == "qdrant" {
		s, err := vectorstore.NewQdrant(cfg.VectorStore.QdrantDSN, cfg.VectorStore.Collection, cfg.Embedding.Dimension, cfg.VectorStore.Metric)
		if err != nil {
			log.Warn().Err(err).Msg("qdrant_unavailable_falling_back_to_memory")
			return vectorstore.NewMemory()
		}
		return s
	}
	return vectorstore.NewMemory()
}

func buildVLMProvider(cfg config.Config) vlmclient.Provider {
	if cfg.VLM.Provider == "openai" {
		return vlmclient.NewOpenAIProvider(cfg.VLM.APIKey, cfg.VLM.BaseURL, cfg.VLM.Model)
	}
	return vlmclient.NewAnthropicProvider(cfg.VLM.APIKey, cfg.VLM.BaseURL, cfg.VLM.Model)
}

// runSubconsciousLoop periodically drains observation lines from stdin's
// sibling channel. In this stdin-driven binary, observations are lines
// prefixed with "obs:" on the same input stream as queries (see
// runInstantResponseREPL); this goroutine exists to demonstrate the
// independent pacing the spec requires and to host future non-stdin
// observation sources (a camera/VLM sidecar) without changing C5's API.
func runSubconsciousLoop(ctx context.Context, tr *tracker.Tracker, period time.Duration) {
	if period <= 0 {
		period = 3 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Each tick ingests at most one pending observation from
			// observationChan, so the period bounds the ingestion rate.
			var obs string
			select {
			case obs = <-observationChan:
			default:
				continue
			}
			decision, err := tr.ProcessVLMObservation(ctx, obs)
			if err != nil {
				log.Error().Err(err).Msg("tracker_process_failed")
				continue
			}
			log.Debug().
				Str("task", decision.TaskName).
				Int("step", decision.StepID).
				Str("confidence", decision.ConfidenceLevel.String()).
				Bool("accepted", decision.Accepted).
				Str("reason", decision.Reason).
				Msg("subconscious_observation_processed")
		}
	}
}

// observationChan decouples stdin parsing from the subconscious loop's
// ticker-paced consumption.
var observationChan = make(chan string, 16)

// runInstantResponseREPL reads lines from stdin: lines prefixed "obs:" are
// forwarded to the subconscious loop, everything else is treated as a
// user query answered synchronously via the orchestrator.
func runInstantResponseREPL(ctx context.Context, orch *orchestrator.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "obs:"); ok {
			select {
			case observationChan <- strings.TrimSpace(rest):
			case <-ctx.Done():
				return
			}
			continue
		}

		resp := orch.Answer(ctx, line)
		fmt.Printf("[%s/%s] %s\n", resp.Source, resp.Intent, resp.Text)

		if ctx.Err() != nil {
			return
		}
	}
}
