// Package openai implements the reasoning.Client interface on the official
// OpenAI SDK.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/reasoning"
)

// Config holds OpenAI client configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default OpenAI configuration
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.3,
	}
}

// Client implements reasoning.Client for OpenAI chat models.
type Client struct {
	config *Config
	client openai.Client
}

// New creates a new OpenAI reasoning client using the official SDK.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Generate implements reasoning.Client. Grounded requests are rejected: the
// chat completion API has no web grounding mode.
func (c *Client) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Result, error) {
	if req.Grounded {
		return nil, xerrors.NewReasoningError(string(req.Role), xerrors.Permanent, reasoning.ErrGroundingUnsupported)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.config.Model),
	}
	if c.config.Temperature > 0 {
		params.Temperature = param.NewOpt(c.config.Temperature)
	}
	if c.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(c.config.MaxTokens)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, xerrors.NewReasoningError(string(req.Role), classify(err), err)
	}
	if len(completion.Choices) == 0 {
		return nil, xerrors.NewReasoningError(string(req.Role), xerrors.Transient, fmt.Errorf("no choices returned"))
	}

	return &reasoning.Result{Text: completion.Choices[0].Message.Content}, nil
}

func classify(err error) xerrors.Kind {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return xerrors.KindFromStatus(apiErr.StatusCode)
	}
	// Network-level failures without a status are worth retrying.
	return xerrors.Transient
}
