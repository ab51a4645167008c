package vlmclient

import (
	"context"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIProvider adapts the OpenAI SDK's chat-completions endpoint to the
// Provider interface, grounded on the teacher's internal/llm/openai.Client
// (completions API variant).
type OpenAIProvider struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIProvider constructs a Provider backed by the chat-completions
// endpoint. baseURL may point at an OpenAI-compatible self-hosted server.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{sdk: sdk.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) Chat(ctx context.Context, msgs []Message, model string) (string, error) {
	if model == "" {
		model = p.model
	}

	var turns []sdk.ChatCompletionMessageParamUnion
	for _, m := range msgs {
		switch m.Role {
		case "system":
			turns = append(turns, sdk.SystemMessage(m.Content))
		case "assistant":
			turns = append(turns, sdk.AssistantMessage(m.Content))
		default:
			turns = append(turns, sdk.UserMessage(m.Content))
		}
	}

	resp, err := p.sdk.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: turns,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
