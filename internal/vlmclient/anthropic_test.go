package vlmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// TestAnthropicProvider_AccumulatesMultipleSystemMessages guards against a
// regression where a second "system"-role message (the whiteboard-context
// message composeFallbackPrompt adds whenever snapshot.Current != nil)
// silently overwrote the first (the system-framing prompt) instead of both
// reaching the Messages API.
func TestAnthropicProvider_AccumulatesMultipleSystemMessages(t *testing.T) {
	var captured struct {
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-7-sonnet-latest","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := &AnthropicProvider{
		sdk:   anthropic.NewClient(option.WithAPIKey("test-key"), option.WithBaseURL(srv.URL)),
		model: "claude-3-7-sonnet-latest",
	}

	msgs := []Message{
		{Role: "system", Content: "framing prompt"},
		{Role: "system", Content: "whiteboard context"},
		{Role: "user", Content: "what's next?"},
	}

	if _, err := p.Chat(context.Background(), msgs, ""); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(captured.System) != 2 {
		t.Fatalf("expected both system messages to reach the API, got %d: %+v", len(captured.System), captured.System)
	}
	if captured.System[0].Text != "framing prompt" || captured.System[1].Text != "whiteboard context" {
		t.Fatalf("expected system messages preserved in order, got %+v", captured.System)
	}
}
