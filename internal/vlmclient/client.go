package vlmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"taskloop/internal/tracker"
)

// SoftFailureMessage is the canonical text returned on timeout,
// circuit-open, or exhausted retries (spec §4.9).
const SoftFailureMessage = "I can't answer that right now, please try again in a moment."

// systemFramingPrompt is the brief system framing every fallback request
// carries (spec §4.9's "(a) a brief system framing").
const systemFramingPrompt = "You are a calm, concise assistant helping someone complete a hands-on task step by step. Answer only the user's question using the task context provided; do not invent steps that aren't given."

// Config configures a Client.
type Config struct {
	Model            string
	Timeout          time.Duration
	MaxRetries       int
	FailureThreshold int
	FailureWindow    time.Duration
	CooldownPeriod   time.Duration
}

// Client is the VLM fallback client (C9).
type Client struct {
	provider  Provider
	installer PromptInstaller
	cfg       Config
	breaker   *breaker
	clock     tracker.Clock
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithPromptInstaller wires scoped prompt-swap behaviour for a shared VLM
// service (spec §4.9 "Prompt hygiene"). Omit when the fallback endpoint is
// independent of the observation pipeline.
func WithPromptInstaller(p PromptInstaller) Option {
	return func(c *Client) { c.installer = p }
}

// WithClock overrides the system clock; used by tests.
func WithClock(clk tracker.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// New constructs a Client around a concrete Provider.
func New(provider Provider, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	c := &Client{
		provider: provider,
		cfg:      cfg,
		breaker:  newBreaker(cfg.FailureThreshold, cfg.FailureWindow, cfg.CooldownPeriod),
		clock:    tracker.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AskVLM implements spec §4.9's ask_vlm contract. It never returns an
// error for ordinary operational failures (timeout, circuit-open, network
// error) — those degrade to SoftFailureMessage, exactly as specified.
func (c *Client) AskVLM(ctx context.Context, query string, snapshot tracker.Snapshot) string {
	if !c.breaker.allow(c.clock.Now()) {
		log.Warn().Msg("vlmclient_circuit_open")
		return SoftFailureMessage
	}

	if c.installer != nil {
		saved, err := c.installer.ActivePrompt(ctx)
		if err == nil {
			if installErr := c.installer.InstallPrompt(ctx, systemFramingPrompt); installErr == nil {
				defer func() {
					if restoreErr := c.installer.InstallPrompt(context.Background(), saved); restoreErr != nil {
						log.Error().Err(restoreErr).Msg("vlmclient_prompt_restore_failed")
					}
				}()
			}
		} else {
			log.Warn().Err(err).Msg("vlmclient_prompt_save_failed")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	msgs := composeFallbackPrompt(snapshot, query)

	text, err := c.callWithRetry(callCtx, msgs)
	if err != nil {
		if callCtx.Err() != nil {
			log.Warn().Err(err).Msg("vlmclient_timeout_or_cancelled")
		} else {
			log.Warn().Err(err).Msg("vlmclient_call_failed")
		}
		c.breaker.recordFailure(c.clock.Now())
		return SoftFailureMessage
	}

	c.breaker.recordSuccess()
	return strings.TrimSpace(text)
}

// callWithRetry bounds retries with exponential backoff
// (github.com/cenkalti/backoff/v4), capped at cfg.MaxRetries attempts
// beyond the first.
func (c *Client) callWithRetry(ctx context.Context, msgs []Message) (string, error) {
	var out string
	attempt := 0
	operation := func() error {
		text, err := c.provider.Chat(ctx, msgs, c.cfg.Model)
		if err != nil {
			attempt++
			if attempt > c.cfg.MaxRetries {
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return "", err
	}
	return out, nil
}

// composeFallbackPrompt builds the fixed fallback-prompt template: system
// framing, whiteboard context if present, and the user's question (spec
// §4.9).
func composeFallbackPrompt(snapshot tracker.Snapshot, query string) []Message {
	msgs := []Message{{Role: "system", Content: systemFramingPrompt}}

	if snapshot.Current != nil {
		cur := snapshot.Current
		taskContext := fmt.Sprintf(
			"Current context: task %q, step %d (%q), tools needed: %s.",
			snapshot.TaskDisplayName, cur.StepID, cur.Title, toolsOrNone(cur.ToolsNeeded),
		)
		msgs = append(msgs, Message{Role: "system", Content: taskContext})
	}

	msgs = append(msgs, Message{Role: "user", Content: query})
	return msgs
}

func toolsOrNone(tools []string) string {
	if len(tools) == 0 {
		return "none"
	}
	return strings.Join(tools, ", ")
}
