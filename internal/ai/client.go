// Package ai wraps an OpenAI-compatible chat endpoint for intent
// classification, listing extraction and customer replies. Every caller
// keeps a deterministic fallback, so a model outage degrades answers but
// never blocks the pipeline.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion is returned when the model answers with no choices.
var ErrEmptyCompletion = errors.New("model returned no choices")

// ChatCompleter is the subset of *openai.Client used by this package.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAI builds a go-openai client for an OpenAI-compatible endpoint.
func NewOpenAI(baseURL, apiKey string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cfg)
}

// Client issues JSON-mode completions.
type Client struct {
	completer ChatCompleter
	model     string
	logger    *slog.Logger
}

// NewClient wraps completer. An empty model falls back to gpt-4o-mini.
func NewClient(log *slog.Logger, completer ChatCompleter, model string) *Client {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		completer: completer,
		model:     model,
		logger:    log.With(slog.String("component", "ai")),
	}
}

// completeJSON sends a system and a user prompt in JSON mode at temperature 0
// and decodes the answer into out.
func (c *Client) completeJSON(ctx context.Context, system, user string, out any) error {
	if c == nil || c.completer == nil {
		return errors.New("ai client not configured")
	}
	start := time.Now()
	resp, err := c.completer.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ErrEmptyCompletion
	}
	content := resp.Choices[0].Message.Content
	c.logger.Debug("completion",
		slog.String("model", c.model),
		slog.Duration("took", time.Since(start)),
		slog.Int("tokens", resp.Usage.TotalTokens),
	)
	if err := json.Unmarshal([]byte(removeCodeBlocks(content)), out); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}

// removeCodeBlocks strips a surrounding ``` fence some models add even in JSON mode.
func removeCodeBlocks(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
