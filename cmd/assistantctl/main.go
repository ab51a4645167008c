// Command assistantctl is the operator CLI for the manual-assistant
// engine: validate a knowledge directory, warm the embedding cache ahead
// of deployment, and replay a transcript of observations/queries against
// a throwaway in-memory engine for local testing.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"taskloop/internal/config"
	"taskloop/internal/embedcache"
	"taskloop/internal/embedindex"
	"taskloop/internal/knowledge"
	"taskloop/internal/matcher"
	"taskloop/internal/obslog"
	"taskloop/internal/orchestrator"
	"taskloop/internal/slidingwindow"
	"taskloop/internal/tracker"
	"taskloop/internal/vectorstore"
	"taskloop/internal/vlmclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		cmdValidate(os.Args[2:])
	case "warm-cache":
		cmdWarmCache(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: assistantctl <validate|warm-cache|replay> [flags]")
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	dir := fs.String("dir", "./tasks", "knowledge directory to validate")
	fs.Parse(args)

	ks, err := knowledge.Load(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		os.Exit(1)
	}
	for _, tk := range ks.AllTasks() {
		fmt.Printf("%s: %q (%d steps)\n", tk.TaskName, tk.DisplayName, len(tk.Steps))
	}
	fmt.Printf("ok: %d task(s) loaded from %s\n", len(ks.AllTasks()), *dir)
}

func cmdWarmCache(args []string) {
	fs := flag.NewFlagSet("warm-cache", flag.ExitOnError)
	dir := fs.String("dir", "./tasks", "knowledge directory")
	cacheDir := fs.String("cache-dir", "./.cache/embeddings", "embedding cache directory")
	dimension := fs.Int("dimension", 384, "embedding dimension (deterministic backend)")
	fs.Parse(args)

	obslog.Init("", "info")

	ks, err := knowledge.Load(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warm-cache: %v\n", err)
		os.Exit(1)
	}

	cache, err := embedcache.NewFile(*cacheDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warm-cache: %v\n", err)
		os.Exit(1)
	}

	idx := embedindex.New(embedindex.NewDeterministic(*dimension), vectorstore.NewMemory(), cache)
	if err := idx.Build(context.Background(), ks); err != nil {
		fmt.Fprintf(os.Stderr, "warm-cache: %v\n", err)
		os.Exit(1)
	}

	total := 0
	for _, tk := range ks.AllTasks() {
		total += len(tk.Steps)
	}
	fmt.Printf("warmed embedding cache for %d step(s) across %d task(s) into %s\n", total, len(ks.AllTasks()), *cacheDir)
}

// cmdReplay drives the whole engine against a scripted transcript file for
// local testing, without any network-backed VLM: observation lines feed
// the tracker directly and query lines are answered through the
// orchestrator, with an echo provider standing in for the real VLM.
func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	dir := fs.String("dir", "./tasks", "knowledge directory")
	transcript := fs.String("transcript", "", "path to a transcript file (lines: 'obs: ...' or a bare query)")
	fs.Parse(args)

	if *transcript == "" {
		fmt.Fprintln(os.Stderr, "replay: -transcript is required")
		os.Exit(2)
	}

	obslog.Init("", "info")

	ks, err := knowledge.Load(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}

	cache, err := embedcache.NewFile(*dir + "/.replay-cache")
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	idx := embedindex.New(embedindex.NewDeterministic(64), vectorstore.NewMemory(), cache)
	if err := idx.Build(context.Background(), ks); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}

	m := matcher.New(idx, ks)
	win := slidingwindow.New(50)
	thresholds := config.Default().Thresholds
	tr := tracker.New(ks, m, win, thresholds)

	vlm := vlmclient.New(echoProvider{}, vlmclient.Config{})
	orch := orchestrator.New(tr, ks, vlm)

	f, err := os.Open(*transcript)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "obs:"); ok {
			decision, err := tr.ProcessVLMObservation(ctx, strings.TrimSpace(rest))
			if err != nil {
				fmt.Printf("obs error: %v\n", err)
				continue
			}
			fmt.Printf("obs -> task=%s step=%d confidence=%s accepted=%v reason=%s\n",
				decision.TaskName, decision.StepID, decision.ConfidenceLevel, decision.Accepted, decision.Reason)
			continue
		}
		resp := orch.Answer(ctx, line)
		fmt.Printf("query %q -> [%s/%s] %s\n", line, resp.Source, resp.Intent, resp.Text)
	}
}

// echoProvider stands in for a real VLM during replay so the tool never
// makes a network call.
type echoProvider struct{}

func (echoProvider) Chat(ctx context.Context, msgs []vlmclient.Message, model string) (string, error) {
	return "(replay mode has no real VLM wired; this is a stand-in answer)", nil
}
