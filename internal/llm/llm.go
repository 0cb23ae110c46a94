package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned when a provider is used without credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	IsConfigured() bool
}

// Truncate cuts s to at most n bytes without splitting a rune and marks the cut
// with "...".
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// classificationTemperature keeps classification output as repeatable as the backend allows.
const classificationTemperature = 0.0

// chatMessage is the message shape shared by the Ollama and OpenAI chat APIs.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func userPrompt(prompt string) []chatMessage {
	return []chatMessage{{Role: "user", Content: prompt}}
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// OllamaProvider talks to a local Ollama daemon.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider returns a provider for the given model and daemon URL.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured reports whether the daemon answers and has the model pulled.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []ollamaModel `json:"models"`
	}
	if json.NewDecoder(resp.Body).Decode(&tags) != nil {
		return false
	}
	family, _, _ := strings.Cut(o.Model, ":")
	return slices.ContainsFunc(tags.Models, func(m ollamaModel) bool {
		return strings.HasPrefix(m.Name, family)
	})
}

type ollamaModel struct {
	Name string `json:"name"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

// Generate runs one non-streaming chat completion in JSON mode.
func (o *OllamaProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := ollamaChatRequest{
		Model:    o.Model,
		Messages: userPrompt(prompt),
		Format:   "json",
		Options:  ollamaOptions{NumPredict: maxTokens, Temperature: classificationTemperature, Seed: 42},
	}
	var out struct {
		Message chatMessage `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/api/chat", nil, body, &out); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return out.Message.Content, nil
}

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider reads the API key from apiKeyEnv.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  strings.TrimSpace(os.Getenv(apiKeyEnv)),
		BaseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OpenAIProvider) IsConfigured() bool { return o.APIKey != "" }

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if !o.IsConfigured() {
		return "", fmt.Errorf("openai: %w", ErrNotConfigured)
	}
	body := openAIChatRequest{
		Model:       o.Model,
		Messages:    userPrompt(prompt),
		MaxTokens:   maxTokens,
		Temperature: classificationTemperature,
	}
	header := http.Header{"Authorization": {"Bearer " + o.APIKey}}
	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/chat/completions", header, body, &out); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Settings selects and configures a provider.
type Settings struct {
	Provider    string // anthropic, ollama or openai
	Model       string
	APIKeyEnv   string
	OllamaURL   string
	OpenAIModel string
}

// CreateProvider creates an LLM provider based on configuration. It returns
// nil when no provider is usable.
func CreateProvider(s Settings, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(s.Provider) {
	case "anthropic", "claude":
		p := NewAnthropicProvider(s.Model, s.APIKeyEnv)
		if p.IsConfigured() {
			logger.Info("using anthropic provider", zap.String("model", p.Model))
			return p
		}
		logger.Warn("anthropic api key not set", zap.String("env", s.APIKeyEnv))
		return nil
	case "ollama":
		p := NewOllamaProvider(s.Model, s.OllamaURL)
		if p.IsConfigured() {
			logger.Info("using ollama provider", zap.String("model", s.Model))
			return p
		}
		logger.Warn("ollama not available, trying openai fallback", zap.String("url", s.OllamaURL))
	}

	keyEnv := s.APIKeyEnv
	if strings.ToLower(s.Provider) == "ollama" || keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	p := NewOpenAIProvider(s.OpenAIModel, keyEnv)
	if p.IsConfigured() {
		logger.Info("using openai provider", zap.String("model", s.OpenAIModel))
		return p
	}

	logger.Warn("no llm provider available")
	return nil
}
