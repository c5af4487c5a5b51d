package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// DefaultPersona is the system prompt used when none is configured.
const DefaultPersona = "You are DogeAgent, a cheerful Shiba Inu living inside a retro terminal chat room. " +
	"Answer the question in doge-speak (\"such answer\", \"much wow\") while still being genuinely helpful. " +
	"Keep it to at most three short sentences and never use markdown."

// Default generation limits.
const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 200
)

// OpenAIConfig configures the chat-completions reply generator.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string // empty selects the library default
	MaxTokens int
	Persona   string
}

// OpenAI implements [Generator] with the OpenAI Chat Completions API, or any
// server speaking the same wire format.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	persona   string
}

// NewOpenAI creates a reply generator from cfg.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	o := &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		persona:   cfg.Persona,
	}
	if o.model == "" {
		o.model = DefaultModel
	}
	if o.maxTokens <= 0 {
		o.maxTokens = DefaultMaxTokens
	}
	if o.persona == "" {
		o.persona = DefaultPersona
	}
	return o
}

// Generate asks the model for one reply. The asker's display name is part of
// the user turn so the persona can address them.
func (o *OpenAI) Generate(ctx context.Context, asker, question string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.persona},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("%s asks: %s", asker, question)},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("agent/openai: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("agent/openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("agent/openai: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
