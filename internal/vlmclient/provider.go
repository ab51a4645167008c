// Package vlmclient implements the VLM fallback client (C9, spec §4.9):
// prompt-hygiene scoped acquisition, bounded retries, and a circuit
// breaker around a chat-completions-shaped call to the configured VLM.
package vlmclient

import "context"

// Message mirrors the teacher's internal/llm.Message shape, trimmed to
// the fields a text-only fallback prompt needs.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is the adapter boundary over a concrete VLM SDK, grounded on
// the teacher's internal/llm.Provider interface.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, model string) (string, error)
}

// PromptInstaller models a shared VLM service whose active "observation
// prompt" must be swapped out for the fallback prompt and restored
// afterwards (spec §4.9 "Prompt hygiene"). Nil means the VLM endpoint is
// independent of the observation pipeline and no swap is needed.
type PromptInstaller interface {
	ActivePrompt(ctx context.Context) (string, error)
	InstallPrompt(ctx context.Context, prompt string) error
}
