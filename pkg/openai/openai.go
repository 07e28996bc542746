// Package openai adapts an OpenAI-compatible API to the embedding and
// completion contracts of the assessment pipeline.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/regcheck/pkg/resilience"
)

// Config configures the client.
type Config struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for an Azure or self-hosted gateway.
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	// Dimensions asks models that support it for shortened vectors. Zero
	// keeps the model default.
	Dimensions int
	// JSONMode requests a JSON object response from chat completions.
	JSONMode   bool
	HTTPClient *http.Client
}

// Client talks to the API through go-openai.
type Client struct {
	api *goopenai.Client
	cfg Config
}

// New creates a Client. Requests are traced through otelhttp unless the
// caller supplies its own http.Client.
func New(cfg Config) *Client {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(goopenai.SmallEmbedding3)
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = goopenai.GPT4oMini
	}
	cc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   120 * time.Second,
		}
	}
	cc.HTTPClient = hc
	return &Client{api: goopenai.NewClientWithConfig(cc), cfg: cfg}
}

// EmbeddingModel names the model used by Embed.
func (c *Client) EmbeddingModel() string { return c.cfg.EmbeddingModel }

// Embed returns one vector per text in input order. OpenAI models are
// symmetric, so query is ignored.
func (c *Client) Embed(ctx context.Context, texts []string, query bool) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      texts,
		Model:      goopenai.EmbeddingModel(c.cfg.EmbeddingModel),
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", classify(err))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, resilience.Permanent(fmt.Errorf("openai embed: index %d out of range", d.Index))
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, resilience.Permanent(fmt.Errorf("openai embed: no vector for input %d", i))
		}
	}
	return out, nil
}

// Complete sends one system+user exchange and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string, temperature float64, maxTokens int) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	req := goopenai.ChatCompletionRequest{
		Model:       c.cfg.ChatModel,
		Messages:    msgs,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}
	if c.cfg.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify marks client errors other than rate limiting as permanent and
// rate limiting as throttled. go-openai drops response headers, so no
// Retry-After hint is available.
func classify(err error) error {
	code := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	if code == http.StatusTooManyRequests {
		return resilience.Throttled(err, 0)
	}
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout {
		return resilience.Permanent(err)
	}
	return err
}
