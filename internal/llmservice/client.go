package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	openaisdk "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"corpus-rag/internal/config"
	"corpus-rag/internal/models"
	"corpus-rag/internal/retry"
)

// Options bound one generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client is the text generation capability.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	ModelID() string
}

// New builds the client described by cfg, wrapped with retries.
func New(cfg config.LLMConfig) (Client, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating generation client")
	var c Client
	switch cfg.Provider {
	case "openai_compatible":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
		}
		c = NewLangchainClient(llm, "openai_compatible:"+cfg.Model)
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
		}
		c = NewLangchainClient(llm, "ollama:"+cfg.Model)
	case "openai":
		c = NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown generation provider %q", models.ErrInvalidConfig, cfg.Provider)
	}
	return WithRetry(c, retry.Policy{MaxRetries: cfg.MaxRetries, Timeout: cfg.Timeout}), nil
}

// LangchainClient adapts any langchaingo model.
type LangchainClient struct {
	llm llms.Model
	id  string
}

func NewLangchainClient(llm llms.Model, id string) *LangchainClient {
	return &LangchainClient{llm: llm, id: id}
}

func (c *LangchainClient) ModelID() string { return c.id }

func (c *LangchainClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	msgContent := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}
	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	res, err := c.llm.GenerateContent(ctx, msgContent, callOpts...)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return res.Choices[0].Content, nil
}

// OpenAIClient calls the chat completions API through go-openai.
type OpenAIClient struct {
	client *openaisdk.Client
	model  string
}

func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	oc := openaisdk.DefaultConfig(strings.TrimPrefix(cfg.Key, "Bearer "))
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{client: openaisdk.NewClientWithConfig(oc), model: cfg.Model}
}

func (c *OpenAIClient) ModelID() string { return "openai:" + c.model }

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openaisdk.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaisdk.ChatCompletionMessage{
			{Role: openaisdk.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		var apiErr *openaisdk.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 &&
			apiErr.HTTPStatusCode != http.StatusTooManyRequests && apiErr.HTTPStatusCode != http.StatusRequestTimeout {
			return "", retry.Permanent(err)
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type retrying struct {
	Client
	policy retry.Policy
}

// WithRetry retries c under p and reports exhaustion as ErrGenerationUnavailable.
func WithRetry(c Client, p retry.Policy) Client {
	return &retrying{Client: c, policy: p}
}

func (r *retrying) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	var out string
	attempt := 0
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		attempt++
		text, err := r.Client.Generate(ctx, prompt, opts)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("model", r.ModelID()).Msg("Generation call failed")
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s after %d attempt(s): %v", models.ErrGenerationUnavailable, r.ModelID(), attempt, err)
	}
	return out, nil
}
