package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// ollamaChat talks to a local/self-hosted Ollama server via its own api
// client package.
func ollamaChat(ctx context.Context, host string, messages []Message, temperature float64) (string, error) {
	base, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	client := api.NewClient(base, http.DefaultClient)

	msgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, api.Message{Role: m.Role, Content: m.Content})
	}

	var sb strings.Builder
	stream := false
	req := &api.ChatRequest{
		Model:    "llama3.3",
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": temperature,
		},
	}

	err = client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}

	return sb.String(), nil
}
