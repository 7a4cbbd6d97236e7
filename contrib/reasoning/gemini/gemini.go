// Package gemini implements the reasoning.Client interface on the Google
// generative AI SDK. It is the one bundled client that supports grounded
// requests: responses carry citation metadata the search layer can extract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	xerrors "github.com/sweetpotato0/deepresearch/errors"
	"github.com/sweetpotato0/deepresearch/reasoning"
)

// Config holds Gemini client configuration
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns default Gemini configuration
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.3,
	}
}

// Client implements reasoning.Client for Gemini models.
type Client struct {
	config *Config
	client *genai.Client
}

// New creates a new Gemini reasoning client. The context is only used for
// SDK initialisation.
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{config: config, client: client}, nil
}

// Close releases the underlying SDK client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Generate implements reasoning.Client. Grounded requests surface citation
// sources from the response metadata.
func (c *Client) Generate(ctx context.Context, req reasoning.Request) (*reasoning.Result, error) {
	model := c.client.GenerativeModel(c.config.Model)
	if c.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(c.config.MaxTokens)
	}
	if c.config.Temperature > 0 {
		model.SetTemperature(c.config.Temperature)
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, xerrors.NewReasoningError(string(req.Role), classify(err), err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, xerrors.NewReasoningError(string(req.Role), xerrors.Transient, fmt.Errorf("empty response"))
	}

	cand := resp.Candidates[0]
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	result := &reasoning.Result{Text: b.String()}
	if req.Grounded {
		result.Citations = extractCitations(cand.CitationMetadata)
	}
	return result, nil
}

// extractCitations maps the SDK's citation metadata to reasoning citations.
// Sources without a URI carry no attribution and are dropped.
func extractCitations(md *genai.CitationMetadata) []reasoning.Citation {
	if md == nil {
		return nil
	}
	var out []reasoning.Citation
	for _, cs := range md.CitationSources {
		if cs == nil || cs.URI == nil || *cs.URI == "" {
			continue
		}
		out = append(out, reasoning.Citation{URL: *cs.URI})
	}
	return out
}

func classify(err error) xerrors.Kind {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return xerrors.KindFromStatus(apiErr.Code)
	}
	return xerrors.Transient
}
