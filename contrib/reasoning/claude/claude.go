// Package claude implements the reasoning.Client interface on the official
// Anthropic SDK.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/reasoning"
)

// Config holds Claude client configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default Claude configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "claude-3-5-sonnet-20241022",
		MaxTokens:   4096,
		Temperature: 0.3,
	}
}

// Client implements reasoning.Client for Anthropic models.
type Client struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude reasoning client using the official SDK.
func New(config *Config) *Client {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Generate implements reasoning.Client. Grounded requests are rejected; use
// the gemini client for grounded search.
func (c *Client) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Result, error) {
	if req.Grounded {
		return nil, xerrors.NewReasoningError(string(req.Role), xerrors.Permanent, reasoning.ErrGroundingUnsupported)
	}

	params := anthropic.MessageNewParams{
		Model: anthropic.Model(c.config.Model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		MaxTokens: c.config.MaxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if c.config.Temperature > 0 {
		params.Temperature = param.NewOpt(c.config.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, xerrors.NewReasoningError(string(req.Role), classify(err), err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return nil, xerrors.NewReasoningError(string(req.Role), xerrors.Transient, fmt.Errorf("empty response"))
	}
	return &reasoning.Result{Text: b.String()}, nil
}

func classify(err error) xerrors.Kind {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return xerrors.KindFromStatus(apiErr.StatusCode)
	}
	return xerrors.Transient
}
