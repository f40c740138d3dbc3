// LLM provider adapters. Generation is a blocking call with a per-call
// timeout; the generator and the settings test endpoint share them.
package aicontext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/types"
)

// Provider is the minimal LLM surface the generator needs.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewProvider builds a provider from per-user AI settings.
func NewProvider(settings *types.AISettings) (Provider, error) {
	const op = "aicontext.NewProvider"
	switch strings.ToLower(settings.Provider) {
	case "gemini", "google":
		return newGeminiProvider(settings)
	case "openai", "openai-compatible", "custom":
		return newOpenAIProvider(settings)
	default:
		return nil, errors.Validation(op, "invalid provider %q", settings.Provider)
	}
}

// geminiProvider talks to the Gemini API through the official client.
type geminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func newGeminiProvider(settings *types.AISettings) (*geminiProvider, error) {
	const op = "aicontext.NewProvider"
	if settings.APIKey == "" {
		return nil, errors.Validation(op, "gemini provider requires an API key")
	}
	model := settings.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  settings.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindUpstreamUnavailable, op, err)
	}
	return &geminiProvider{
		client:      client,
		model:       model,
		temperature: float32(settings.Temperature),
		maxTokens:   int32(settings.MaxTokens),
	}, nil
}

func (p *geminiProvider) Name() string { return "gemini:" + p.model }

func (p *geminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	const op = "aicontext.gemini.Generate"

	cfg := &genai.GenerateContentConfig{}
	if p.temperature > 0 {
		cfg.Temperature = genai.Ptr(p.temperature)
	}
	if p.maxTokens > 0 {
		cfg.MaxOutputTokens = p.maxTokens
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", errors.Wrap(errors.KindUpstreamUnavailable, op, err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New(errors.KindUpstreamUnavailable, op, "empty completion from %s", p.model)
	}
	return text, nil
}

// openAIProvider speaks the OpenAI-compatible chat completion protocol, for
// self-hosted endpoints and proxies.
type openAIProvider struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

func newOpenAIProvider(settings *types.AISettings) (*openAIProvider, error) {
	const op = "aicontext.NewProvider"
	endpoint := strings.TrimRight(settings.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	model := settings.Model
	if model == "" {
		return nil, errors.Validation(op, "openai provider requires a model")
	}
	return &openAIProvider{
		endpoint:    endpoint,
		apiKey:      settings.APIKey,
		model:       model,
		temperature: settings.Temperature,
		maxTokens:   settings.MaxTokens,
		httpClient:  &http.Client{},
	}, nil
}

func (p *openAIProvider) Name() string { return "openai:" + p.model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *openAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	const op = "aicontext.openai.Generate"

	body, err := json.Marshal(chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.KindUpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", errors.Wrap(errors.KindUpstreamUnavailable, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.KindUpstreamUnavailable, op,
			"provider returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrap(errors.KindUpstreamUnavailable, op, err)
	}
	if parsed.Error != nil {
		return "", errors.New(errors.KindUpstreamUnavailable, op, "provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", errors.New(errors.KindUpstreamUnavailable, op, "empty completion from %s", p.model)
	}
	return parsed.Choices[0].Message.Content, nil
}

// TestResult is the connection probe outcome.
type TestResult struct {
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// TestConnection probes the provider with a trivial prompt and measures
// round-trip latency. Probe failures are reported in the result, not as an
// error return.
func TestConnection(ctx context.Context, provider Provider, timeout time.Duration) TestResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := provider.Generate(ctx, "Reply with the single word: ok")
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return TestResult{Success: false, LatencyMs: latency, Error: errors.Safe(err)}
	}
	return TestResult{Success: true, LatencyMs: latency}
}

var _ fmt.Stringer = (*TestResult)(nil)

func (r *TestResult) String() string {
	if r.Success {
		return fmt.Sprintf("ok in %dms", r.LatencyMs)
	}
	return fmt.Sprintf("failed after %dms: %s", r.LatencyMs, r.Error)
}
