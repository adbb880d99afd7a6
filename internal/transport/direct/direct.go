// Package direct provides the secondary reply generator used when the
// primary generation service cannot deliver: a plain chat completion against
// the OpenAI API, without synthesized audio.
package direct

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// systemPrompt frames the model as the conversation partner the primary
// service normally provides.
const systemPrompt = "You are a friendly language tutor having a spoken conversation " +
	"with a learner. Reply briefly and naturally in %s, at a level the learner can follow. " +
	"Do not mention that you are an AI."

// fallbackLanguage is used when the caller supplies no language tag.
const fallbackLanguage = "the learner's language"

// Client implements the transport's direct generator against OpenAI.
type Client struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the client.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a direct generation client.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("direct: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("direct: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Generate produces one complete reply to the learner's message.
func (c *Client) Generate(ctx context.Context, message, language string) (string, error) {
	if language == "" {
		language = fallbackLanguage
	}
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(fmt.Sprintf(systemPrompt, language)),
			oai.UserMessage(message),
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("direct: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("direct: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
