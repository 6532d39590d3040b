// Package llm is the LLM capability adapter: a single typed ask()
// across four selectable provider backends, each requiring a per-call
// deadline and surfacing a closed error-kind taxonomy. The Groq backend
// sends its request without the call's context, so the deadline does not
// cut a Groq request short.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jpoz/groq"
	openai "github.com/sashabaranov/go-openai"

	"github.com/replicatedhq/chartsmith/pkg/config"
	"github.com/replicatedhq/chartsmith/pkg/errs"
	"github.com/replicatedhq/chartsmith/pkg/logger"
)

// Message is a provider-agnostic chat message.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Result is the adapter's success shape. The caller never sees model names
// or endpoints; the adapter selects an endpoint internally.
type Result struct {
	Content string
	Tokens  int
}

// Client is the capability contract. Implementations have no per-process
// mutable state beyond a connection pool and are safe for concurrent use.
type Client interface {
	Ask(ctx context.Context, messages []Message, temperature float64, deadline time.Duration) (Result, error)
}

// New selects the configured provider and returns its client.
func New(cfg config.Config) (Client, error) {
	switch cfg.AIProvider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "groq":
		return newGroqClient(cfg)
	case "ollama":
		return newOllamaClient(cfg)
	case "openrouter", "":
		return newOpenRouterClient(cfg)
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider)
	}
}

// stripFences removes a single surrounding ``` ... ``` fence, used by
// callers that declare they expect JSON back. The adapter never parses
// JSON itself; it only strips the fence and returns raw text.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "json" || firstLine == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// --- Anthropic ---

type anthropicClient struct {
	client *anthropic.Client
}

func newAnthropicClient(cfg config.Config) (Client, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	logger.Info("creating anthropic capability client")
	c := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
	return &anthropicClient{client: c}, nil
}

func (a *anthropicClient) Ask(ctx context.Context, messages []Message, temperature float64, deadline time.Duration) (Result, error) {
	if deadline <= 0 {
		return Result{}, errs.New(errs.KindInternal, fmt.Errorf("llm ask called without a deadline"))
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	params := toAnthropicMessages(messages)
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.ModelClaude3_7Sonnet20250219),
		MaxTokens: anthropic.F(int64(8192)),
		Messages:  anthropic.F(params),
	})
	if err != nil {
		return Result{}, classifyErr(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			sb.WriteString(block.Text)
		}
	}

	return Result{Content: stripFencesIfJSONDeclared(sb.String()), Tokens: int(msg.Usage.OutputTokens)}, nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// stripFencesIfJSONDeclared is a no-op pass-through here; call sites that
// expect JSON call stripFences explicitly on the returned Content. Kept as
// a separate name to make the "adapter never parses JSON" contract visible
// at the call site below.
func stripFencesIfJSONDeclared(s string) string { return s }

// --- OpenRouter (OpenAI-compatible) ---

type openRouterClient struct {
	client *openai.Client
}

func newOpenRouterClient(cfg config.Config) (Client, error) {
	if cfg.OpenRouterAPIKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is not set")
	}
	logger.Info("creating openrouter capability client")
	oaiCfg := openai.DefaultConfig(cfg.OpenRouterAPIKey)
	oaiCfg.BaseURL = "https://openrouter.ai/api/v1"
	return &openRouterClient{client: openai.NewClientWithConfig(oaiCfg)}, nil
}

func (o *openRouterClient) Ask(ctx context.Context, messages []Message, temperature float64, deadline time.Duration) (Result, error) {
	if deadline <= 0 {
		return Result{}, errs.New(errs.KindInternal, fmt.Errorf("llm ask called without a deadline"))
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       "anthropic/claude-3.7-sonnet",
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   8192,
		Temperature: float32(temperature),
	})
	if err != nil {
		return Result{}, classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errs.New(errs.KindToolUpstream, fmt.Errorf("no choices returned"))
	}

	return Result{Content: resp.Choices[0].Message.Content, Tokens: resp.Usage.CompletionTokens}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// --- Groq ---

type groqClient struct {
	client *groq.Client
}

func newGroqClient(cfg config.Config) (Client, error) {
	if cfg.GroqAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY is not set")
	}
	logger.Info("creating groq capability client")
	return &groqClient{client: groq.NewClient(groq.WithAPIKey(cfg.GroqAPIKey))}, nil
}

func (g *groqClient) Ask(ctx context.Context, messages []Message, temperature float64, deadline time.Duration) (Result, error) {
	if deadline <= 0 {
		return Result{}, errs.New(errs.KindInternal, fmt.Errorf("llm ask called without a deadline"))
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	gm := make([]groq.Message, 0, len(messages))
	for _, m := range messages {
		gm = append(gm, groq.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := g.client.CreateChatCompletion(groq.CompletionCreateParams{
		Model:    "llama-3.3-70b-versatile",
		Messages: gm,
	})
	if err != nil {
		return Result{}, classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errs.New(errs.KindToolUpstream, fmt.Errorf("no choices returned"))
	}

	return Result{Content: resp.Choices[0].Message.Content}, nil
}

// --- Ollama (local inference) ---

type ollamaClient struct {
	host string
}

func newOllamaClient(cfg config.Config) (Client, error) {
	host := cfg.OllamaHost
	if host == "" {
		host = "http://localhost:11434"
	}
	logger.Info("creating ollama capability client")
	return &ollamaClient{host: host}, nil
}

func (o *ollamaClient) Ask(ctx context.Context, messages []Message, temperature float64, deadline time.Duration) (Result, error) {
	if deadline <= 0 {
		return Result{}, errs.New(errs.KindInternal, fmt.Errorf("llm ask called without a deadline"))
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	content, err := ollamaChat(ctx, o.host, messages, temperature)
	if err != nil {
		return Result{}, classifyErr(err)
	}
	return Result{Content: content}, nil
}

// classifyErr maps a transport/library error into the closed ErrorKind
// taxonomy; context.DeadlineExceeded always becomes a timeout.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isDeadline(err):
		return errs.New(errs.KindToolTimeout, err)
	default:
		return errs.New(errs.KindToolUpstream, err)
	}
}

func isDeadline(err error) bool {
	return err == context.DeadlineExceeded || strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "context canceled")
}
