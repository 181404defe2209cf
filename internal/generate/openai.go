// ABOUTME: OpenAI-backed Generator using the chat completions streaming API
// ABOUTME: Skips empty deltas so every Recv yields a real token

package generate

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Options configures the OpenAI generator.
type Options struct {
	APIKey       string
	BaseURL      string // optional, for proxies and compatible backends
	Model        string
	MaxTokens    int
	Temperature  float32
	SystemPrompt string
}

// OpenAIGenerator streams completions from the OpenAI chat API or any
// API-compatible backend.
type OpenAIGenerator struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIGenerator builds a generator from options.
func NewOpenAIGenerator(opts Options) *OpenAIGenerator {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

// Generate opens a streaming completion for the user message.
func (g *OpenAIGenerator) Generate(ctx context.Context, userMessage string) (Stream, error) {
	messages := []openai.ChatCompletionMessage{}
	if g.opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: g.opts.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.opts.Model,
		Messages:    messages,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening completion stream: %w", err)
	}

	return &openaiStream{inner: stream}, nil
}

type openaiStream struct {
	inner *openai.ChatCompletionStream
}

// Recv returns the next non-empty content delta. The API interleaves empty
// deltas (role markers, finish reasons) that callers should never see.
func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}
