package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	Model  string
	APIKey string
	client anthropic.Client
}

// NewAnthropicProvider creates a provider reading its key from apiKeyEnv.
// Extra options (for example option.WithBaseURL) are passed to the client.
func NewAnthropicProvider(model, apiKeyEnv string, opts ...option.RequestOption) *AnthropicProvider {
	if model == "" {
		model = defaultAnthropicModel
	}
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	key := strings.TrimSpace(os.Getenv(apiKeyEnv))
	base := []option.RequestOption{
		option.WithAPIKey(key),
		// Retries are owned by the pipeline.
		option.WithMaxRetries(0),
	}
	return &AnthropicProvider{
		Model:  model,
		APIKey: key,
		client: anthropic.NewClient(append(base, opts...)...),
	}
}

// IsConfigured reports whether an API key is present.
func (a *AnthropicProvider) IsConfigured() bool {
	return a.APIKey != ""
}

// Generate sends a single user message and returns the concatenated text blocks.
func (a *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if a.APIKey == "" {
		return "", fmt.Errorf("anthropic: %w", ErrNotConfigured)
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(classificationTemperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text in anthropic response")
	}
	return sb.String(), nil
}
